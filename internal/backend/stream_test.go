package backend

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func lineDecoder(line string) (string, bool, error) {
	if line == "END" {
		return "", true, nil
	}
	return line, false, nil
}

func TestStreamRecvAndEOFIsSticky(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader("a\n\nb\nEND\nignored\n")}
	cancelled := false
	st := newStream("test", body, lineDecoder, func() { cancelled = true })

	got, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	got, err = st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	_, err = st.Recv()
	assert.ErrorIs(t, err, io.EOF)
	_, err = st.Recv()
	assert.ErrorIs(t, err, io.EOF)

	assert.True(t, cancelled)
	assert.Equal(t, 1, body.closed)
	require.NoError(t, st.Close())
	assert.Equal(t, 1, body.closed)
}

func TestStreamMissingEndMarker(t *testing.T) {
	st := newStream("test", io.NopCloser(strings.NewReader("a\nb\n")), lineDecoder, nil)
	text, err := Collect(st)
	assert.Empty(t, text)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, UnexpectedShape, be.Kind)
}

func TestCollectConcatenates(t *testing.T) {
	st := newStream("test", io.NopCloser(strings.NewReader("x\ny\nz\nEND\n")), lineDecoder, nil)
	text, err := Collect(st)
	require.NoError(t, err)
	assert.Equal(t, "xyz", text)
}

type fakeStreamer struct {
	fakeDispatcher
	body string
}

func (f *fakeStreamer) Stream(context.Context, Request) (*Stream, error) {
	return newStream(f.name, io.NopCloser(strings.NewReader(f.body)), lineDecoder, nil), nil
}

func TestStreamingAdapter(t *testing.T) {
	d := Streaming(&fakeStreamer{fakeDispatcher: fakeDispatcher{name: "fake"}, body: "hel\nlo\nEND\n"})
	assert.Equal(t, "fake", d.Name())

	res, err := d.Send(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
}
