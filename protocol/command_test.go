package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/georelay/errors"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  Command
		isErr bool
	}{
		{
			name: "bare command",
			line: "PING",
			want: Command{Name: "PING", Named: map[string]string{}},
		},
		{
			name: "lowercase name is upper-cased",
			line: "sub vehicles",
			want: Command{Name: "SUB", Args: []string{"vehicles"}, Named: map[string]string{}},
		},
		{
			name: "arguments keep their case",
			line: "GET Vehicles Ref-1",
			want: Command{Name: "GET", Args: []string{"Vehicles", "Ref-1"}, Named: map[string]string{}},
		},
		{
			name: "extra whitespace collapses",
			line: "  SUB   vehicles  ",
			want: Command{Name: "SUB", Args: []string{"vehicles"}, Named: map[string]string{}},
		},
		{
			name: "named argument splits on first equals",
			line: "PGET vehicles projection=epsg:3857",
			want: Command{
				Name:  "PGET",
				Args:  []string{"vehicles"},
				Named: map[string]string{"projection": "epsg:3857"},
			},
		},
		{
			name: "value may contain equals",
			line: "CMD key=a=b",
			want: Command{Name: "CMD", Named: map[string]string{"key": "a=b"}},
		},
		{
			name:  "empty line",
			line:  "",
			isErr: true,
		},
		{
			name:  "whitespace only",
			line:  "   \t  ",
			isErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.line)
			if tt.isErr {
				require.Error(t, err)
				assert.True(t, errors.IsRemote(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}
