package initcmd

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		host    string
		want    string
		wantErr bool
	}{
		{"https://backup.example.com", "https://backup.example.com", false},
		{"http://10.0.0.4:8080/", "http://10.0.0.4:8080/", false},
		{"", "", true},
		{"backup.example.com", "", true},
		{"ftp://backup.example.com", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := normalizeHost(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAccessKey(t *testing.T) {
	assert.Error(t, validateAccessKey("  "))
	assert.NoError(t, validateAccessKey("s3cret"))
}
