package config

import "strings"

// SecurityConfig holds the HTTP edge protections
type SecurityConfig struct {
	// Rate limiting
	IPRateLimit         int
	IPRateBurst         int
	RateLimitCleanupMin int

	CORSAllowedOrigins []string
}

// LoadSecurityConfig reads the security configuration from the environment
func LoadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		IPRateLimit:         getEnvInt("IP_RATE_LIMIT", 20),
		IPRateBurst:         getEnvInt("IP_RATE_BURST", 40),
		RateLimitCleanupMin: getEnvInt("RATE_LIMIT_CLEANUP_MIN", 10),
		CORSAllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
