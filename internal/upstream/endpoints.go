package upstream

// Known endpoint aliases, tried in configuration order. Unknown aliases are
// treated as literal base URLs so deployments can point at a mitm or staging
// host without a code change.
var endpointAliases = map[string]string{
	"sandbox-daily": "https://daily-cloudcode-pa.sandbox.googleapis.com",
	"daily":         "https://daily-cloudcode-pa.googleapis.com",
	"prod":          "https://cloudcode-pa.googleapis.com",
}

// ResolveEndpoints maps endpoint aliases onto base URLs, preserving order.
func ResolveEndpoints(aliases []string) []string {
	out := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		if base, ok := endpointAliases[alias]; ok {
			out = append(out, base)
			continue
		}
		out = append(out, alias)
	}
	return out
}
