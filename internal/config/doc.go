// Package config handles HCL configuration parsing, validation, and the
// immutable interface record consumed by the bring-up controller.
//
// # Overview
//
// The supervisor reads a single HCL file. Parsing uses
// github.com/hashicorp/hcl/v2 with an evaluation context that exposes the
// process environment as env.NAME, so files can say
//
//	hostname = env.HOSTNAME
//
// # Configuration Blocks
//
//   - interface: the one link to bring up (label = link name)
//   - probe: the one-shot connectivity check after readiness
//   - monitor: the liveness window
//   - metrics: optional Prometheus listener
//
// # Example
//
//	schema_version = "1.0"
//
//	interface "eth1" {
//	    description = "desceth1"
//	    mac         = "79:e4:23:d4:44:12"
//	    mode        = "dhcp"
//	    hostname    = "a.cum.uz"
//	}
//
//	probe {
//	    target = "192.168.88.1"
//	    count  = 10
//	}
//
//	monitor {
//	    window = "5s"
//	}
//
// [Config.Resolve] turns the decoded file into [Settings], building the
// [InterfaceConfiguration] with [NewInterfaceConfiguration].
package config
