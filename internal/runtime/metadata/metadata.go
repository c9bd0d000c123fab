package metadata

// Header keys the bridge reads or writes.
const (
	KeyContentType   = "contentType"
	KeyCorrelationID = "correlation_id"
	KeyRequestMethod = "http_requestMethod"
	KeyRequestURL    = "http_requestUrl"
	KeyBinding       = "streambridge_binding"
	KeyDestination   = "streambridge_destination"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy that never aliases m.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy of m with key set to value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy of m overlaid with entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Get returns the value for key, or "" when missing or m is nil.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}
