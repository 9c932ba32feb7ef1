package pipe

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"os", "mem", "OS"} {
		tr, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, tr)
	}

	_, err := Lookup("carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "os")
	assert.Equal(t, []string{"mem", "os"}, Names())
}

func TestTransports_EOFAfterWriterClose(t *testing.T) {
	for _, tr := range []Transport{OS{}, Memory{}} {
		t.Run(tr.Name(), func(t *testing.T) {
			r, w, err := tr.Pipe()
			require.NoError(t, err)
			defer r.Close()

			go func() {
				_, _ = w.Write([]byte("ping"))
				_ = w.Close()
			}()

			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(data))
		})
	}
}

func TestTransports_WriteAfterReaderClose(t *testing.T) {
	for _, tr := range []Transport{OS{}, Memory{}} {
		t.Run(tr.Name(), func(t *testing.T) {
			r, w, err := tr.Pipe()
			require.NoError(t, err)
			defer w.Close()

			require.NoError(t, r.Close())
			_, err = w.Write([]byte{1, 2, 3, 4})
			assert.Error(t, err)
		})
	}
}
