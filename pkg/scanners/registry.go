package scanners

import "fmt"

// Registry holds the fixed set of scanner descriptors the orchestrator's
// DAG dispatches (spec §4.7): subfinder, dns_resolve, nmap, httpx, nuclei.
type Registry struct {
	byName map[string]Descriptor
}

// NewRegistry builds the registry from the built-in descriptor set, each
// wired to its matching parser below.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Descriptor)}
	for _, d := range builtins() {
		r.byName[d.Name] = d
	}
	return r
}

// Get returns the descriptor for name, or an error if unknown.
func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("scanners: unknown scanner %q", name)
	}
	return d, nil
}

// Names lists all registered scanner names, in pipeline order.
func (r *Registry) Names() []string {
	return []string{"subfinder", "dns_resolve", "nmap", "httpx", "nuclei"}
}

func builtins() []Descriptor {
	return []Descriptor{
		{
			Name:           "subfinder",
			ArgvTemplate:   []string{"subfinder", "-silent", "-json", "-d", "{{.Target}}"},
			TimeoutSeconds: 300,
			Parser:         parseSubfinder,
			Kinds:          []ArtifactKind{KindAsset},
		},
		{
			Name:           "dns_resolve",
			ArgvTemplate:   []string{"dnsx", "-silent", "-json", "-a", "-resp", "-l", "{{.Target}}"},
			TimeoutSeconds: 120,
			Parser:         parseDNSResolve,
			Kinds:          []ArtifactKind{KindAsset, KindEdge},
		},
		{
			Name:           "nmap",
			ArgvTemplate:   []string{"nmap", "-oX", "-", "-Pn", "-T4", "{{.Target}}"},
			TimeoutSeconds: 900,
			Parser:         parseNmap,
			Kinds:          []ArtifactKind{KindService},
		},
		{
			Name:           "httpx",
			ArgvTemplate:   []string{"httpx", "-silent", "-json", "-u", "{{.Target}}"},
			TimeoutSeconds: 180,
			Parser:         parseHTTPX,
			Kinds:          []ArtifactKind{KindAsset, KindEdge},
		},
		{
			Name:           "nuclei",
			ArgvTemplate:   []string{"nuclei", "-silent", "-jsonl", "-u", "{{.Target}}"},
			TimeoutSeconds: 1800,
			Parser:         parseNuclei,
			Kinds:          []ArtifactKind{KindFinding},
		},
	}
}
