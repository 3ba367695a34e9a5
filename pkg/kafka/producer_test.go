package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestNewProducerAppliesOptions(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"), WithHashByKey(true), WithRequiredAcks(1), WithMaxAttempts(5))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, kafka.Zstd, p.writer.Compression)
	assert.Equal(t, kafka.RequireOne, p.writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, 5, p.writer.MaxAttempts)
}

func TestEncode(t *testing.T) {
	b, err := encode("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encode(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))

	_, err = encode(func() {})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Compression(0), parseCompression("none"))
	assert.Equal(t, kafka.Gzip, parseCompression("gzip"))
	assert.Equal(t, kafka.Snappy, parseCompression(""))
}
