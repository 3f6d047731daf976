/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTimeDuration(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    TimeDuration
		wantErr bool
	}{
		{name: "human readable", data: `"24h"`, want: TimeDuration(24 * time.Hour)},
		{name: "nanoseconds", data: `1000`, want: TimeDuration(time.Microsecond)},
		{name: "negative", data: `"-5m"`, wantErr: true},
		{name: "garbage", data: `"soon"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotJSON TimeDuration
			errJSON := json.Unmarshal([]byte(tt.data), &gotJSON)
			var gotYAML TimeDuration
			errYAML := yaml.Unmarshal([]byte(tt.data), &gotYAML)
			if tt.wantErr {
				require.Error(t, errJSON)
				require.Error(t, errYAML)
				return
			}
			require.NoError(t, errJSON)
			require.NoError(t, errYAML)
			require.Equal(t, tt.want, gotJSON)
			require.Equal(t, tt.want, gotYAML)
		})
	}

	out, err := json.Marshal(TimeDuration(5 * time.Minute))
	require.NoError(t, err)
	require.Equal(t, `"5m0s"`, string(out))
}

func TestBytesCount_UnmarshalText(t *testing.T) {
	var b BytesCount
	require.NoError(t, b.UnmarshalText([]byte("1K")))
	require.Equal(t, BytesCount(1024), b)
	require.NoError(t, b.UnmarshalText([]byte("42")))
	require.Equal(t, BytesCount(42), b)
	require.Error(t, b.UnmarshalText([]byte("lots")))
}
