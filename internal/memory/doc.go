// Package memory sets the Go runtime memory limit in containers.
//
// GOMAXPROCS follows cgroup CPU limits automatically but GOMEMLIMIT does not.
// [ConfigureFromEnv] derives it from MEMORY_LIMIT, usually injected with the
// Kubernetes Downward API:
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//	- name: MEMORY_RATIO
//	  value: "0.7"
//
// Only part of the limit goes to the Go heap. cwebp runs as a child process
// and libvips allocates through cgo, and neither is counted by the Go
// runtime. Lower MEMORY_RATIO when many conversions run at once.
package memory
