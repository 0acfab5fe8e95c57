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

package types

import "github.com/pkg/errors"

// Errors returned by the registry. Callers classify them with errors.Is.
var (
	// ErrInvalidArgument a required url or listener is missing.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound unregistering a persistent url which has never been registered.
	ErrNotFound = errors.New("registration not found")
	// ErrConnector the backing store could not serve the request.
	ErrConnector = errors.New("connector failure")
	// ErrNotifyTimeout subscribe gave up waiting for the first notification.
	ErrNotifyTimeout = errors.New("timed out waiting for the first notification")
	// ErrClosed the registry or the connector has been closed.
	ErrClosed = errors.New("registry closed")
	// ErrUnsupported the connector can not serve this kind of request.
	ErrUnsupported = errors.New("unsupported by connector")
)

// ConnectorError wraps err so that it is classified as ErrConnector while keeping its message.
func ConnectorError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &connectorError{cause: errors.Wrapf(err, format, args...)}
}

type connectorError struct {
	cause error
}

func (e *connectorError) Error() string {
	return e.cause.Error()
}

func (e *connectorError) Unwrap() error {
	return e.cause
}

func (e *connectorError) Is(target error) bool {
	return target == ErrConnector
}
