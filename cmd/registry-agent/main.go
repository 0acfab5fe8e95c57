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

package main

import (
	"fmt"
	"os"

	"github.com/symcn/dubbo-registry/cmd/registry-agent/app"
	_ "github.com/symcn/dubbo-registry/pkg/registry/connector/memory"
	_ "github.com/symcn/dubbo-registry/pkg/registry/connector/nacos"
	_ "github.com/symcn/dubbo-registry/pkg/registry/connector/redis"
	_ "github.com/symcn/dubbo-registry/pkg/registry/connector/zk"
)

func main() {
	rootCmd := app.GetRootCmd(os.Args[1:])

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}
