package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{PublicBaseURL: "http://localhost:8080"},
		Stripe: StripeConfig{Timeout: 10 * time.Second},
		Settlement: SettlementConfig{
			AbandonmentWindow: 45 * time.Minute,
			SweepInterval:     time.Minute,
			SweepBatchSize:    100,
			ProvisionTimeout:  10 * time.Second,
			LessonDuration:    time.Hour,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero window", mutate: func(c *Config) { c.Settlement.AbandonmentWindow = 0 }, wantErr: true},
		{name: "zero sweep interval", mutate: func(c *Config) { c.Settlement.SweepInterval = 0 }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.Settlement.SweepBatchSize = 0 }, wantErr: true},
		{name: "zero gateway timeout", mutate: func(c *Config) { c.Stripe.Timeout = 0 }, wantErr: true},
		{name: "zero lesson duration", mutate: func(c *Config) { c.Settlement.LessonDuration = 0 }, wantErr: true},
		{name: "missing base url", mutate: func(c *Config) { c.App.PublicBaseURL = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateBookingReference(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	ref := GenerateBookingReference("TUT", now)
	assert.Regexp(t, regexp.MustCompile(`^TUT-20260314-092653-[0-9A-F]{8}$`), ref)
	assert.NotEqual(t, ref, GenerateBookingReference("TUT", now))
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, 3, ParseInt("3", 1))
	assert.Equal(t, 1, ParseInt("", 1))
	assert.Equal(t, 1, ParseInt("abc", 1))
	assert.Equal(t, 10, ParseInt("-2", 10))
}

func TestValidateStruct(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}

	errs := ValidateStruct(payload{})
	assert.Contains(t, errs, "Name")
	assert.Empty(t, ValidateStruct(payload{Name: "x"}))
}
