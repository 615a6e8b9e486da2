package config

import (
	"net/url"
	"strings"
)

const redacted = "***"

// secrets lists every credential field of cfg.
func secrets(cfg *Config) []*string {
	return []*string{
		&cfg.Wallet.PrivateKey, &cfg.Wallet.KeyPassword,
		&cfg.Polymarket.ApiKey, &cfg.Polymarket.ApiSecret, &cfg.Polymarket.ApiPassphrase,
		&cfg.Builder.ApiKey, &cfg.Builder.ApiSecret, &cfg.Builder.ApiPassphrase,
		&cfg.Supabase.Password,
		&cfg.Redis.Password,
		&cfg.S3.AccessKey, &cfg.S3.SecretKey,
		&cfg.Server.APIKey,
		&cfg.Notify.TelegramToken, &cfg.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a copy of cfg that is safe to log. Credentials
// become "***" and passwords embedded in connection URLs are masked.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range secrets(&out) {
		if *s != "" {
			*s = redacted
		}
	}
	out.Supabase.DSN = redactURL(out.Supabase.DSN)
	out.Redis.Addr = redactURL(out.Redis.Addr)

	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Scan.Timeframes = cloneStrings(cfg.Scan.Timeframes)
	out.MergeTokenIDs = cloneStrings(cfg.MergeTokenIDs)
	return out
}

// redactURL masks the password of a URL-shaped value. Plain host:port
// values pass through. Keyword DSNs carrying a password and URLs that fail
// to parse are hidden entirely.
func redactURL(s string) string {
	if !strings.Contains(s, "://") {
		if strings.Contains(s, "password=") {
			return redacted
		}
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return redacted
	}
	q := u.Query()
	if q.Has("password") {
		q.Set("password", redacted)
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
