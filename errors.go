package pfresolved

import "fmt"

// QueryTimeoutError describes a lookup for Hostname/Family that got no
// answer in time. Forwarder and Worker lookups that time out do not return
// it; they return the context's error (context.DeadlineExceeded).
type QueryTimeoutError struct {
	Hostname string
	Family   AddressFamily
}

func (e QueryTimeoutError) Error() string {
	return fmt.Sprintf("query for '%s' (%s) timed out", e.Hostname, e.Family)
}
