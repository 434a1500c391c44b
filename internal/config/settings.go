package config

import (
	"math"
	"net/netip"
	"os"
	"time"
)

// Property keys of the application settings.
const (
	KeyHost                  = "application.host"
	KeyAddress               = "application.address"
	KeyDefaultTimeout        = "application.default.transformTimeout"
	KeyShutdownTimeout       = "application.shutdownTimeout"
	KeyMultipartMemory       = "application.multipartMemoryBytes"
	KeyTempDir               = "application.tempDir"
	KeyLogLevel              = "application.logging.level"
	KeyLogFormat             = "application.logging.format"
	KeyVersion               = "application.version"
	KeyLogMaxEntries         = "localTransformationLog.maxEntries"
	KeyNonSelectorParameters = "application.nonSelectorParameterNames"
	KeyTransformers          = "application.transformers"
	KeyMetadataExtracters    = "application.metadataExtracters"
	KeyRateLimit             = "application.rateLimit.requestsPerMinute"
	KeyTrustedProxies        = "application.rateLimit.trustedProxies"
	KeyWorkDirMaxAge         = "application.workDir.maxAge"
	KeyWorkDirSweepInterval  = "application.workDir.sweepInterval"
)

// LoggingSettings holds logging configuration.
type LoggingSettings struct {
	Level  string
	Format string
}

// Settings is the typed view of the application.* properties.
type Settings struct {
	Host            string
	Address         string
	DefaultTimeout  time.Duration
	ShutdownTimeout time.Duration
	MultipartMemory int64
	TempDir         string
	LogMaxEntries   int
	RateLimit       int // transform requests per minute and client, 0 disables
	TrustedProxies  []netip.Prefix
	WorkDirMaxAge   time.Duration
	SweepInterval   time.Duration
	Logging         LoggingSettings
	Version         string
}

// NewSettings reads the application settings out of p.
func NewSettings(p *Properties) (*Settings, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	s := &Settings{
		Host:    p.String(KeyHost, host),
		Address: p.String(KeyAddress, ":8090"),
		TempDir: p.String(KeyTempDir, os.TempDir()),
		Logging: LoggingSettings{
			Level:  p.String(KeyLogLevel, "info"),
			Format: p.String(KeyLogFormat, "text"),
		},
		Version: p.String(KeyVersion, "dev"),
	}

	if s.DefaultTimeout, err = p.Millis(KeyDefaultTimeout, 15*time.Minute); err != nil {
		return nil, err
	}
	if s.ShutdownTimeout, err = p.Millis(KeyShutdownTimeout, 10*time.Second); err != nil {
		return nil, err
	}
	if s.MultipartMemory, err = p.Int64(KeyMultipartMemory, 32<<20, 1, math.MaxInt64); err != nil {
		return nil, err
	}
	if s.LogMaxEntries, err = p.Int(KeyLogMaxEntries, 100, 1, math.MaxInt32); err != nil {
		return nil, err
	}
	if s.RateLimit, err = p.Int(KeyRateLimit, 0, 0, math.MaxInt32); err != nil {
		return nil, err
	}
	if s.TrustedProxies, err = trustedProxies(p); err != nil {
		return nil, err
	}
	if s.WorkDirMaxAge, err = p.Millis(KeyWorkDirMaxAge, time.Hour); err != nil {
		return nil, err
	}
	if s.SweepInterval, err = p.Millis(KeyWorkDirSweepInterval, 10*time.Minute); err != nil {
		return nil, err
	}
	if s.WorkDirMaxAge > 0 && s.DefaultTimeout >= s.WorkDirMaxAge {
		return nil, Errorf(KeyWorkDirMaxAge, "must exceed %s (%dms)", KeyDefaultTimeout, s.DefaultTimeout.Milliseconds())
	}
	return s, nil
}

// trustedProxies reads the peers whose X-Forwarded-For header is believed. Entries are
// addresses or CIDR prefixes.
func trustedProxies(p *Properties) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range p.List(KeyTrustedProxies) {
		if prefix, err := netip.ParsePrefix(v); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, Errorf(KeyTrustedProxies, "%q is neither an address nor a CIDR prefix", v)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
