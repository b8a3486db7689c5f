package resolve

// Filter applies the caller-side skip policy to resolved entries. With
// IgnoreMissing, modules without a build identifier are dropped. When listing,
// modules without debug information are dropped unless
// IncludeModulesWithoutDebugInfo is set. The input slice is not modified.
func Filter(entries []Entry, opts Options, listing bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if opts.IgnoreMissing && e.BuildID == "" {
			continue
		}
		if listing && !opts.IncludeModulesWithoutDebugInfo && !e.HasDebug() {
			continue
		}
		out = append(out, e)
	}
	return out
}
