package memory

// retrieveOptions is the resolved set of [RetrieveOpt] values.
// Unexported; callers configure it via functional options.
type retrieveOptions struct {
	memType string
}

// RetrieveOpt is a functional option for [Retriever.Retrieve].
type RetrieveOpt func(*retrieveOptions)

// WithType restricts retrieval to memories tagged memType. The filter is
// applied by the vector index query. An empty value matches every type.
func WithType(memType string) RetrieveOpt {
	return func(o *retrieveOptions) { o.memType = memType }
}

// RetrieveParams holds the resolved parameters from a slice of [RetrieveOpt].
type RetrieveParams struct {
	Type string
}

// ApplyRetrieveOpts resolves opts so that wrappers (such as the MCP tool
// layer) can inspect the requested filters.
func ApplyRetrieveOpts(opts []RetrieveOpt) RetrieveParams {
	o := &retrieveOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return RetrieveParams{Type: o.memType}
}
