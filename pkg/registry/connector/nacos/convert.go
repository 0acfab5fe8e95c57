/*
Copyright 2020 The symcn authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package nacos

import (
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/model"
	"github.com/pkg/errors"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// Reserved metadata keys, the other metadata are the parameters of the url.
const (
	protocolKey = "protocol"
	pathKey     = "path"
)

// serviceName is <category>:<interface>.
func serviceName(category, service string) string {
	return category + ":" + service
}

// clusterName tells apart the urls which share an address.
func clusterName(u *types.URL) string {
	h := fnv.New32a()
	h.Write([]byte(u.String()))
	return fmt.Sprintf("u%08x", h.Sum32())
}

func hostPort(u *types.URL) (string, uint64, error) {
	host, port, err := net.SplitHostPort(u.Address())
	if err != nil {
		return "", 0, errors.Wrapf(types.ErrInvalidArgument, "address of %s: %v", u, err)
	}
	p, err := strconv.ParseUint(port, 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(types.ErrInvalidArgument, "port of %s: %v", u, err)
	}
	return host, p, nil
}

func metadataOf(u *types.URL) map[string]string {
	md := u.Parameters()
	md[protocolKey] = u.Protocol()
	md[pathKey] = u.Path()
	return md
}

func toURL(category, ip string, port uint64, metadata map[string]string) *types.URL {
	params := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if k != protocolKey && k != pathKey {
			params[k] = v
		}
	}
	u := types.NewURL(metadata[protocolKey], net.JoinHostPort(ip, strconv.FormatUint(port, 10)), metadata[pathKey], params)
	if u.Category() != category {
		u = u.WithParameter(types.CategoryKey, category)
	}
	return u
}

func fromInstances(category string, instances []model.Instance) []*types.URL {
	urls := make([]*types.URL, 0, len(instances))
	for _, ins := range instances {
		if !ins.Enable {
			continue
		}
		urls = append(urls, toURL(category, ins.Ip, ins.Port, ins.Metadata))
	}
	return urls
}

func fromSubscribeServices(category string, services []model.SubscribeService) []*types.URL {
	urls := make([]*types.URL, 0, len(services))
	for _, s := range services {
		if !s.Enable {
			continue
		}
		urls = append(urls, toURL(category, s.Ip, s.Port, s.Metadata))
	}
	return urls
}

// isEmptyList reports the error the client returns for a service without instances.
func isEmptyList(err error) bool {
	return err != nil && strings.Contains(err.Error(), "instance list is empty")
}
