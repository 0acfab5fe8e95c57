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

package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/version"
)

// NewCmdVersion returns a cobra command for fetching versions
func NewCmdVersion() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "version",
		Short:   "Print the version information",
		Long:    "Print the version information for the current context",
		Example: "registry-agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stdout, "%s\nconnectors: %v\n", version.GetVersion().String(), connector.Types())
		},
	}
	return cmd
}
