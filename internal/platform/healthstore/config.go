package healthstore

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ehr/intake/internal/platform/faults"
)

// SigningService is the SigV4 service name of the clinical data store.
const SigningService = "healthlake"

// Default transport timeouts.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Config locates the remote FHIR datastore.
type Config struct {
	Region      string
	DatastoreID string
	// Endpoint overrides the base URL derived from Region and DatastoreID.
	Endpoint       string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Validate reports missing settings as configuration errors. It performs
// no I/O.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Region) == "" {
		return fmt.Errorf("%w: AWS_REGION is required for the clinical data store", faults.ErrConfiguration)
	}
	if strings.TrimSpace(c.DatastoreID) == "" {
		return fmt.Errorf("%w: DATASTORE_ID is required for the clinical data store", faults.ErrConfiguration)
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("%w: STORE_ENDPOINT %q is not an absolute http(s) URL", faults.ErrConfiguration, c.Endpoint)
		}
	}
	return nil
}

// BaseURL returns the FHIR R4 base of the datastore without a trailing slash.
func (c Config) BaseURL() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return fmt.Sprintf("https://healthlake.%s.amazonaws.com/datastore/%s/r4", c.Region, c.DatastoreID)
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c Config) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return DefaultReadTimeout
}
