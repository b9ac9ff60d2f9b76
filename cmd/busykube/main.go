// Busykube combines the kubernetes modules into one binary, dispatching on os.Args[0] like
// BusyBox. Each module is reachable under its own name (e.g. a k8s_v1_node symlink), and all
// of them through "kubemodule <module>".
package main

import (
	// 1st-party libs
	"github.com/emissary-ingress/kubemodules/pkg/busy"
	"github.com/emissary-ingress/kubemodules/pkg/schema"

	// commands
	"github.com/emissary-ingress/kubemodules/cmd/kubemodule"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "(unknown version)"

func main() {
	cmds := map[string]busy.Command{
		"kubemodule": {Run: kubemodule.Main},
		"version":    {Run: kubemodule.Run("version")},
	}
	for _, name := range schema.Modules() {
		cmds[name] = busy.Command{Run: kubemodule.Run(name)}
	}

	busy.Main("busykube", "kubemodule", Version, cmds)
}
