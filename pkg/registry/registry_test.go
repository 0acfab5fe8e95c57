package registry

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/option"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/registry/connector/memory"
	"github.com/symcn/dubbo-registry/pkg/registry/connector/mock"
	"github.com/symcn/dubbo-registry/pkg/registry/failback"
	"github.com/symcn/dubbo-registry/pkg/registry/filecache"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

type batch struct {
	category string
	urls     []*types.URL
}

type recorder struct {
	mu      sync.Mutex
	batches []batch
	onCall  func(category string, urls []*types.URL)
}

func (r *recorder) Notify(category string, urls []*types.URL) {
	r.mu.Lock()
	r.batches = append(r.batches, batch{category: category, urls: urls})
	onCall := r.onCall
	r.mu.Unlock()
	if onCall != nil {
		onCall(category, urls)
	}
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// Latest returns the last batch of category.
func (r *recorder) Latest(category string) []*types.URL {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.batches) - 1; i >= 0; i-- {
		if r.batches[i].category == category {
			return r.batches[i].urls
		}
	}
	return nil
}

// sliceListener can not be used as a map key.
type sliceListener []string

func (l sliceListener) Notify(category string, urls []*types.URL) {}

func testOption() option.Registry {
	opt := *option.DefaultRegistryOption()
	opt.Type = "memory"
	opt.Address = []string{"local"}
	opt.Timeout = 2 * time.Second
	opt.RetryPeriod = 20 * time.Millisecond
	opt.MaxRetryPeriod = 100 * time.Millisecond
	return opt
}

func openOn(store *memory.Store) (*Registry, *memory.Connector) {
	conn := memory.NewConnector(store)
	r, err := NewWithConnector(context.Background(), testOption(), conn)
	Expect(err).NotTo(HaveOccurred())
	return r, conn
}

func contains(urls []*types.URL, u *types.URL) bool {
	for _, x := range urls {
		if x.Equal(u) {
			return true
		}
	}
	return false
}

var _ = Describe("Registry", func() {
	var (
		ctx   context.Context
		store *memory.Store
		r     *Registry
		conn  *memory.Connector

		query    = types.MustParseURL("consumer://10.0.0.9/com.foo.BarService?version=*")
		bar      = types.MustParseURL("dubbo://10.0.0.1:20880/com.foo.BarService?dynamic=true&version=1.0.0")
		bar2     = types.MustParseURL("dubbo://10.0.0.2:20880/com.foo.BarService?version=2.0.0")
		relaxed  = types.MustParseURL("dubbo://10.0.0.3:20880/com.foo.BarService?check=false&version=1.0.0")
		fixed    = types.MustParseURL("dubbo://10.0.0.4:20880/com.foo.BarService?dynamic=false&version=1.0.0")
		injected = errors.New("injected failure")
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewStore()
		r, conn = openOn(store)
	})

	AfterEach(func() {
		Expect(r.Close()).To(Succeed())
	})

	Context("register and lookup", func() {
		It("finds a registered url exactly once", func() {
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Register(ctx, bar)).To(Succeed())

			found := r.Lookup(types.MustParseURL("consumer://10.0.0.9/com.foo.BarService?version=*"))
			Expect(found).To(HaveLen(1))
			Expect(found[0].Equal(bar)).To(BeTrue())
			Expect(store.URLs(query)).To(HaveLen(1))
		})

		It("keeps urls which only differ in their parameters apart", func() {
			other := bar.WithParameter("weight", "10")
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Register(ctx, other)).To(Succeed())
			Expect(r.Lookup(query)).To(HaveLen(2))
		})

		It("does not find an unregistered url", func() {
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Unregister(ctx, bar)).To(Succeed())
			Expect(contains(r.Lookup(query), bar)).To(BeFalse())
			Expect(store.URLs(query)).To(BeEmpty())
		})

		It("requires structural equality to unregister", func() {
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Unregister(ctx, bar.WithParameter("weight", "10"))).To(Succeed())
			Expect(contains(r.Lookup(query), bar)).To(BeTrue())
		})

		It("rejects an unknown persistent url and ignores an unknown dynamic one", func() {
			err := r.Unregister(ctx, fixed)
			Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
			Expect(r.Unregister(ctx, bar)).To(Succeed())
		})

		It("rejects empty urls", func() {
			Expect(errors.Is(r.Register(ctx, nil), types.ErrInvalidArgument)).To(BeTrue())
			Expect(errors.Is(r.Unregister(ctx, types.NewURL("", "", "", nil)), types.ErrInvalidArgument)).To(BeTrue())
			Expect(errors.Is(r.Subscribe(ctx, nil, &recorder{}), types.ErrInvalidArgument)).To(BeTrue())
			Expect(errors.Is(r.Subscribe(ctx, query, nil), types.ErrInvalidArgument)).To(BeTrue())
			Expect(errors.Is(r.Unsubscribe(ctx, query, nil), types.ErrInvalidArgument)).To(BeTrue())
			Expect(r.Lookup(nil)).To(BeEmpty())
		})

		It("rejects a listener which is not comparable", func() {
			err := r.Subscribe(ctx, query, sliceListener{"a"})
			Expect(errors.Is(err, types.ErrInvalidArgument)).To(BeTrue())
			err = r.Unsubscribe(ctx, query, sliceListener{"a"})
			Expect(errors.Is(err, types.ErrInvalidArgument)).To(BeTrue())
			Expect(r.Subscribed()).To(BeEmpty())
			Expect(r.Close()).To(Succeed())
		})

		It("drops the ephemeral urls when the session is lost", func() {
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Register(ctx, fixed)).To(Succeed())

			conn.Disconnect()
			found := r.Lookup(query)
			Expect(contains(found, bar)).To(BeFalse())
			Expect(contains(found, fixed)).To(BeTrue())
			Expect(contains(store.URLs(query), fixed)).To(BeTrue())
		})
	})

	Context("failures", func() {
		It("returns the failure of a strict register", func() {
			conn.SetFailure(injected)
			err := r.Register(ctx, bar)
			Expect(errors.Is(err, types.ErrConnector)).To(BeTrue())
			Expect(r.Registered()).To(BeEmpty())
			Expect(r.Pending()).To(BeEmpty())
		})

		It("retries a relaxed register until it succeeds", func() {
			conn.SetFailure(injected)
			Expect(r.Register(ctx, relaxed)).To(Succeed())
			Expect(r.Pending()).To(HaveLen(1))
			Expect(contains(r.Lookup(query), relaxed)).To(BeTrue())

			conn.SetFailure(nil)
			Eventually(func() []*types.URL { return store.URLs(query) }, 2*time.Second).Should(HaveLen(1))
			Eventually(r.Pending, 2*time.Second).Should(BeEmpty())
			Expect(contains(r.Lookup(query), relaxed)).To(BeTrue())
		})

		It("cancels a pending register on unregister", func() {
			conn.SetFailure(injected)
			Expect(r.Register(ctx, relaxed)).To(Succeed())
			Expect(r.Unregister(ctx, relaxed)).To(Succeed())
			Expect(r.Pending()).To(BeEmpty())

			conn.SetFailure(nil)
			Consistently(func() []*types.URL { return store.URLs(query) }, 200*time.Millisecond).Should(BeEmpty())
			Expect(r.Lookup(query)).To(BeEmpty())
		})

		It("retries a relaxed unregister", func() {
			Expect(r.Register(ctx, relaxed)).To(Succeed())
			conn.SetFailure(injected)
			Expect(r.Unregister(ctx, relaxed)).To(Succeed())
			Expect(r.Pending()).To(HaveLen(1))

			conn.SetFailure(nil)
			Eventually(func() []*types.URL { return store.URLs(query) }, 2*time.Second).Should(BeEmpty())
		})

		It("keeps a registration whose strict re-register failed", func() {
			Expect(r.Register(ctx, fixed)).To(Succeed())
			conn.SetFailure(injected)
			Expect(errors.Is(r.Register(ctx, fixed), types.ErrConnector)).To(BeTrue())
			Expect(r.Registered()).To(ConsistOf(fixed))

			conn.SetFailure(nil)
			Expect(r.Unregister(ctx, fixed)).To(Succeed())
			Expect(store.URLs(query)).To(BeEmpty())
		})

		It("cancels a pending unregister on register", func() {
			Expect(r.Register(ctx, relaxed)).To(Succeed())
			conn.SetFailure(injected)
			Expect(r.Unregister(ctx, relaxed)).To(Succeed())
			Expect(r.Pending()).To(HaveLen(1))
			Expect(r.Pending()[0].Kind).To(Equal(failback.Unregister))

			Expect(r.Register(ctx, relaxed)).To(Succeed())
			for _, info := range r.Pending() {
				Expect(info.Kind).NotTo(Equal(failback.Unregister))
			}

			conn.SetFailure(nil)
			Eventually(r.Pending, 2*time.Second).Should(BeEmpty())
			Consistently(func() []*types.URL { return store.URLs(query) }, 200*time.Millisecond).Should(ConsistOf(relaxed))
		})

		It("retries a relaxed subscribe until it succeeds", func() {
			provider, _ := openOn(store)
			defer provider.Close()

			relaxedQuery := query.WithParameter(types.CheckKey, "false")
			conn.SetFailure(injected)
			l := &recorder{}
			Expect(r.Subscribe(ctx, relaxedQuery, l)).To(Succeed())
			Expect(r.Pending()).To(HaveLen(1))
			Expect(r.Pending()[0].Kind).To(Equal(failback.Subscribe))

			conn.SetFailure(nil)
			Eventually(r.Pending, 2*time.Second).Should(BeEmpty())
			Expect(provider.Register(ctx, bar)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(ConsistOf(bar))
		})

		It("retries a relaxed unsubscribe", func() {
			provider, _ := openOn(store)
			defer provider.Close()

			relaxedQuery := query.WithParameter(types.CheckKey, "false")
			l := &recorder{}
			Expect(r.Subscribe(ctx, relaxedQuery, l)).To(Succeed())

			conn.SetFailure(injected)
			Expect(r.Unsubscribe(ctx, relaxedQuery, l)).To(Succeed())
			Expect(r.Pending()).To(HaveLen(1))
			Expect(r.Pending()[0].Kind).To(Equal(failback.Unsubscribe))

			conn.SetFailure(nil)
			Eventually(r.Pending, 2*time.Second).Should(BeEmpty())
			count := l.Count()
			Expect(provider.Register(ctx, bar)).To(Succeed())
			Consistently(l.Count, 100*time.Millisecond).Should(Equal(count))
		})
	})

	Context("subscribe", func() {
		It("returns after the first notification has been handled", func() {
			Expect(r.Register(ctx, bar)).To(Succeed())

			l := &recorder{}
			Expect(r.Subscribe(ctx, query, l)).To(Succeed())
			Expect(l.Count()).To(Equal(1))
			Expect(l.Latest(types.ProvidersCategory)).To(ConsistOf(bar))
		})

		It("delivers an empty first notification", func() {
			l := &recorder{}
			Expect(r.Subscribe(ctx, query, l)).To(Succeed())
			Expect(l.Count()).To(Equal(1))
			Expect(l.Latest(types.ProvidersCategory)).To(BeEmpty())
		})

		It("pushes the changes made by other processes", func() {
			provider, _ := openOn(store)
			defer provider.Close()

			l := &recorder{}
			Expect(r.Subscribe(ctx, query, l)).To(Succeed())
			Expect(provider.Register(ctx, bar)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(ConsistOf(bar))

			Expect(provider.Unregister(ctx, bar)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(BeEmpty())
		})

		It("never loses a registration racing with subscribe", func() {
			provider, _ := openOn(store)
			defer provider.Close()

			l := &recorder{}
			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				Expect(provider.Register(ctx, bar)).To(Succeed())
			}()
			Expect(r.Subscribe(ctx, query, l)).To(Succeed())
			<-done
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(ConsistOf(bar))
		})

		It("keeps the listeners of one query independent", func() {
			provider, _ := openOn(store)
			defer provider.Close()

			first, second := &recorder{}, &recorder{}
			Expect(r.Subscribe(ctx, query, first)).To(Succeed())
			Expect(r.Subscribe(ctx, query, second)).To(Succeed())
			Expect(r.Subscribed()).To(HaveKeyWithValue(query.Key(), 2))

			Expect(r.Unsubscribe(ctx, query, first)).To(Succeed())
			count := first.Count()
			Expect(provider.Register(ctx, bar)).To(Succeed())

			Eventually(func() []*types.URL { return second.Latest(types.ProvidersCategory) }).Should(ConsistOf(bar))
			Consistently(first.Count, 100*time.Millisecond).Should(Equal(count))
		})

		It("unsubscribes only the given query of a listener", func() {
			other := types.MustParseURL("consumer://10.0.0.9/com.foo.FooService")
			l := &recorder{}
			Expect(r.Subscribe(ctx, query, l)).To(Succeed())
			Expect(r.Subscribe(ctx, other, l)).To(Succeed())

			Expect(r.Unsubscribe(ctx, other, l)).To(Succeed())
			Expect(r.Register(ctx, bar)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(ConsistOf(bar))
			Expect(r.Subscribed()).To(HaveLen(1))
		})

		It("ignores an unknown subscription", func() {
			Expect(r.Unsubscribe(ctx, query, &recorder{})).To(Succeed())
		})

		It("tolerates a listener unsubscribing itself from its first notification", func() {
			l := &recorder{}
			l.onCall = func(string, []*types.URL) {
				Expect(r.Unsubscribe(ctx, query, l)).To(Succeed())
			}
			Expect(r.Subscribe(ctx, query, l)).To(Succeed())
			Expect(l.Count()).To(Equal(1))
			Expect(r.Subscribed()).To(BeEmpty())
		})

		It("stops waiting when the context ends but keeps the subscription", func() {
			release := make(chan struct{})
			l := &recorder{}
			l.onCall = func(string, []*types.URL) { <-release }

			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			err := r.Subscribe(tctx, query, l)
			Expect(errors.Is(err, types.ErrNotifyTimeout)).To(BeTrue())
			Expect(r.Subscribed()).To(HaveKeyWithValue(query.Key(), 1))

			l.mu.Lock()
			l.onCall = nil
			l.mu.Unlock()
			close(release)
			Expect(r.Register(ctx, bar)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(ConsistOf(bar))
		})

		It("tears down a strict subscription which failed", func() {
			conn.SetFailure(injected)
			err := r.Subscribe(ctx, query, &recorder{})
			Expect(errors.Is(err, types.ErrConnector)).To(BeTrue())
			Expect(r.Subscribed()).To(BeEmpty())
		})

		It("delivers the local snapshot when a relaxed subscription fails", func() {
			provider, _ := openOn(store)
			defer provider.Close()
			Expect(r.Register(ctx, bar)).To(Succeed())

			relaxedQuery := query.WithParameter(types.CheckKey, "false")
			conn.SetFailure(injected)
			l := &recorder{}
			Expect(r.Subscribe(ctx, relaxedQuery, l)).To(Succeed())
			Expect(l.Latest(types.ProvidersCategory)).To(ConsistOf(bar))

			conn.SetFailure(nil)
			Expect(provider.Register(ctx, bar2)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }, 2*time.Second).Should(ConsistOf(bar, bar2))
		})

		It("covers every category with a wildcard", func() {
			router := types.MustParseURL("route://0.0.0.0/com.foo.BarService?category=routers&dynamic=false")
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Register(ctx, router)).To(Succeed())

			l := &recorder{}
			Expect(r.Subscribe(ctx, query.WithParameter(types.CategoryKey, types.AnyValue), l)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.RoutersCategory) }).Should(ConsistOf(router))
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(ConsistOf(bar))
		})
	})

	Context("reconnect", func() {
		It("restores ephemeral registrations and subscriptions on a new session", func() {
			provider, _ := openOn(store)
			defer provider.Close()

			l := &recorder{}
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Subscribe(ctx, query, l)).To(Succeed())

			conn.Disconnect()
			Expect(store.URLs(query)).To(BeEmpty())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }).Should(BeEmpty())

			conn.Reconnect()
			Eventually(func() []*types.URL { return store.URLs(query) }, 2*time.Second).Should(ConsistOf(bar))
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }, 2*time.Second).Should(ConsistOf(bar))

			Expect(provider.Register(ctx, bar2)).To(Succeed())
			Eventually(func() []*types.URL { return l.Latest(types.ProvidersCategory) }, 2*time.Second).Should(ConsistOf(bar, bar2))
		})
	})

	Context("close", func() {
		It("withdraws the ephemeral registrations and rejects further calls", func() {
			Expect(r.Register(ctx, bar)).To(Succeed())
			Expect(r.Register(ctx, fixed)).To(Succeed())
			Expect(r.Close()).To(Succeed())
			Expect(r.Close()).To(Succeed())

			Expect(store.URLs(query)).To(ConsistOf(fixed))
			Expect(errors.Is(r.Register(ctx, bar), types.ErrClosed)).To(BeTrue())
			Expect(errors.Is(r.Subscribe(ctx, query, &recorder{}), types.ErrClosed)).To(BeTrue())
			Expect(r.Available()).To(BeFalse())
		})
	})
})

var _ = Describe("Registry with a mocked connector", func() {
	var (
		ctrl  *gomock.Controller
		conn  *mock.MockConnector
		ctx   = context.Background()
		query = types.MustParseURL("consumer://10.0.0.9/com.foo.BarService")
		bar   = types.MustParseURL("dubbo://10.0.0.1:20880/com.foo.BarService")
		bar2  = types.MustParseURL("dubbo://10.0.0.2:20880/com.foo.BarService")
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		conn = mock.NewMockConnector(ctrl)
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("shares one connector subscription between the listeners of a query", func() {
		conn.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil)
		conn.EXPECT().Subscribe(gomock.Any(), query, gomock.Any()).Return([]*types.URL{bar}, nil).Times(1)
		conn.EXPECT().Unsubscribe(gomock.Any(), query).Return(nil).Times(1)
		conn.EXPECT().Available().Return(true).AnyTimes()
		conn.EXPECT().Close().Return(nil)

		r, err := NewWithConnector(ctx, testOption(), conn)
		Expect(err).NotTo(HaveOccurred())

		first, second := &recorder{}, &recorder{}
		Expect(r.Subscribe(ctx, query, first)).To(Succeed())
		Expect(r.Subscribe(ctx, query, second)).To(Succeed())
		Expect(second.Latest(types.ProvidersCategory)).To(ConsistOf(bar))

		Expect(r.Unsubscribe(ctx, query, first)).To(Succeed())
		Expect(r.Unsubscribe(ctx, query, second)).To(Succeed())
		Expect(r.Close()).To(Succeed())
	})

	It("watches a query again after a concurrent strict subscribe failed", func() {
		entered, release := make(chan struct{}), make(chan struct{})
		conn.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil)
		gomock.InOrder(
			conn.EXPECT().Subscribe(gomock.Any(), query, gomock.Any()).DoAndReturn(
				func(ctx context.Context, query *types.URL, handler connector.EventHandler) ([]*types.URL, error) {
					close(entered)
					<-release
					return nil, types.ConnectorError(errors.New("refused"), "subscribe")
				}),
			conn.EXPECT().Subscribe(gomock.Any(), query, gomock.Any()).Return([]*types.URL{bar}, nil),
		)
		conn.EXPECT().Unsubscribe(gomock.Any(), query).Return(nil).Times(1)
		conn.EXPECT().Available().Return(true).AnyTimes()
		conn.EXPECT().Close().Return(nil)

		r, err := NewWithConnector(ctx, testOption(), conn)
		Expect(err).NotTo(HaveOccurred())

		first, second := &recorder{}, &recorder{}
		failed := make(chan error, 1)
		go func() {
			failed <- r.Subscribe(ctx, query, first)
		}()
		<-entered

		joined := make(chan error, 1)
		go func() {
			joined <- r.Subscribe(ctx, query, second)
		}()
		Consistently(joined, 100*time.Millisecond).ShouldNot(Receive())
		close(release)

		Eventually(failed).Should(Receive(HaveOccurred()))
		Eventually(joined).Should(Receive(BeNil()))
		Expect(second.Latest(types.ProvidersCategory)).To(ConsistOf(bar))
		Expect(first.Count()).To(BeZero())
		Expect(r.Subscribed()).To(HaveKeyWithValue(query.Key(), 1))

		Expect(r.Unsubscribe(ctx, query, second)).To(Succeed())
		Expect(r.Close()).To(Succeed())
	})

	It("cancels a pending relaxed subscribe without reaching the connector", func() {
		relaxedQuery := query.WithParameter(types.CheckKey, "false")
		conn.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil)
		conn.EXPECT().Subscribe(gomock.Any(), relaxedQuery, gomock.Any()).Return(nil, errors.New("refused")).Times(1)
		conn.EXPECT().Available().Return(true).AnyTimes()
		conn.EXPECT().Close().Return(nil)

		opt := testOption()
		opt.RetryPeriod = time.Hour
		opt.MaxRetryPeriod = time.Hour
		r, err := NewWithConnector(ctx, opt, conn)
		Expect(err).NotTo(HaveOccurred())

		l := &recorder{}
		Expect(r.Subscribe(ctx, relaxedQuery, l)).To(Succeed())
		Expect(r.Pending()).To(HaveLen(1))

		Expect(r.Unsubscribe(ctx, relaxedQuery, l)).To(Succeed())
		Expect(r.Pending()).To(BeEmpty())
		Expect(r.Close()).To(Succeed())
	})

	It("keeps the changes pushed while the subscription was being set up", func() {
		conn.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil)
		conn.EXPECT().Subscribe(gomock.Any(), query, gomock.Any()).DoAndReturn(
			func(ctx context.Context, query *types.URL, handler connector.EventHandler) ([]*types.URL, error) {
				handler(types.ProvidersCategory, []*types.URL{bar2})
				return []*types.URL{bar}, nil
			})
		conn.EXPECT().Unsubscribe(gomock.Any(), query).Return(nil).AnyTimes()
		conn.EXPECT().Available().Return(true).AnyTimes()
		conn.EXPECT().Close().Return(nil)

		r, err := NewWithConnector(ctx, testOption(), conn)
		Expect(err).NotTo(HaveOccurred())

		l := &recorder{}
		Expect(r.Subscribe(ctx, query, l)).To(Succeed())
		Expect(r.Lookup(query)).To(ConsistOf(bar2))
		Expect(l.Latest(types.ProvidersCategory)).To(ConsistOf(bar2))
		Expect(r.Close()).To(Succeed())
	})

	It("fails to open a checked registry which can not connect", func() {
		conn.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(errors.New("refused"))
		conn.EXPECT().Close().Return(nil)

		_, err := NewWithConnector(ctx, testOption(), conn)
		Expect(err).To(HaveOccurred())
	})

	It("opens an unchecked registry which can not connect", func() {
		conn.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(errors.New("refused"))
		conn.EXPECT().Available().Return(false).AnyTimes()
		conn.EXPECT().Close().Return(nil)

		opt := testOption()
		opt.Check = false
		r, err := NewWithConnector(ctx, opt, conn)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Available()).To(BeFalse())
		Expect(r.URL().Parameter(types.CheckKey)).To(Equal("false"))
		Expect(r.Close()).To(Succeed())
	})
})

var _ = Describe("Registry with a snapshot file", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "registry")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("serves the last known urls when a relaxed subscription fails", func() {
		ctx := context.Background()
		query := types.MustParseURL("consumer://10.0.0.9/com.foo.BarService?check=false")
		bar := types.MustParseURL("dubbo://10.0.0.1:20880/com.foo.BarService")

		path := filepath.Join(dir, "registry.cache")
		files, err := filecache.New(path, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		files.Update(query, types.ProvidersCategory, []*types.URL{bar})
		files.Close()

		opt := testOption()
		opt.File = path
		conn := memory.NewConnector(memory.NewStore())
		r, err := NewWithConnector(ctx, opt, conn)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		conn.SetFailure(errors.New("down"))
		l := &recorder{}
		Expect(r.Subscribe(ctx, query, l)).To(Succeed())
		Expect(l.Latest(types.ProvidersCategory)).To(ConsistOf(bar))
	})
})
