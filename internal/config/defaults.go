package config

import "time"

// ── Default values ───────────────────────────────────────────────────

const (
	// DefaultHost binds every interface.
	DefaultHost = "0.0.0.0"

	// DefaultPort is used when neither file, env nor flag names one.
	DefaultPort = 8080

	// DefaultIndexFile is served for directory requests.
	DefaultIndexFile = "index.html"

	// DefaultSOAPPath is where SOAP envelopes are posted.
	DefaultSOAPPath = "/"

	// DefaultSessionMaxAge expires sessions after thirty minutes.
	DefaultSessionMaxAge = "PT30M"

	// DefaultSessionSweep is how often expired session files are purged.
	DefaultSessionSweep = "PT5M"

	// DefaultAcceptTimeout bounds a single Accept call so cancellation is
	// noticed promptly.
	DefaultAcceptTimeout = time.Second

	// DefaultHandshakeTimeout bounds the TLS handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultReadTimeout is the idle timeout between reads.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds a single write.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultConnectTimeout bounds a single client dial attempt.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultRetryCount is how many times a failed client connect is retried.
	DefaultRetryCount = 3

	// DefaultRetryPause is the fixed pause between connect attempts.
	DefaultRetryPause = 500 * time.Millisecond

	// DefaultBufferSize is the send/receive chunk size.
	DefaultBufferSize = 8192

	// DefaultMaxBodySize caps request bodies (32 MiB).
	DefaultMaxBodySize = 32 << 20
)
