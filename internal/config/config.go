package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	DBDSN            string
	JWTIssuer        string
	JWTSecret        string
	JWTTTL           time.Duration
	InternalToken    string
	AdminUsername    string
	AdminPassword    string
	PriceAPIURL      string
	PriceFeedURL     string
	PriceTimeout     time.Duration
	ExplorerURL      string
	DepositAddresses map[string]string
	AllowOrigins     []string
	LogLevel         string
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.AdminUsername = os.Getenv("ADMIN_USERNAME")
	if c.AdminUsername == "" {
		missing = append(missing, "ADMIN_USERNAME")
	}
	c.AdminPassword = os.Getenv("ADMIN_PASSWORD_HASH")
	if c.AdminPassword == "" {
		missing = append(missing, "ADMIN_PASSWORD_HASH")
	}
	c.PriceAPIURL = os.Getenv("PRICE_API_URL")
	if c.PriceAPIURL == "" {
		missing = append(missing, "PRICE_API_URL")
	}
	c.PriceFeedURL = os.Getenv("PRICE_FEED_URL")
	priceTimeout := os.Getenv("PRICE_TIMEOUT")
	if priceTimeout == "" {
		c.PriceTimeout = 5 * time.Second
	} else {
		d, err := time.ParseDuration(priceTimeout)
		if err != nil {
			return c, err
		}
		c.PriceTimeout = d
	}
	c.ExplorerURL = os.Getenv("EXPLORER_URL")
	c.DepositAddresses = parsePairs(os.Getenv("DEPOSIT_ADDRESSES"))
	origins := os.Getenv("ALLOW_ORIGINS")
	if origins == "" {
		origins = "*"
	}
	c.AllowOrigins = strings.Split(origins, ",")
	c.LogLevel = os.Getenv("LOG_LEVEL")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

// parsePairs reads "BTC=addr1,LTC=addr2" into a map.
func parsePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
