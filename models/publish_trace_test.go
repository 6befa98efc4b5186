package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestPublishTraceSchema(t *testing.T) {
	s, err := schema.Parse(&PublishTrace{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	logs := s.LookUpField("Logs")
	require.NotNil(t, logs)
	assert.Equal(t, schema.DataType("text"), logs.DataType)
}

func TestTraceLinesValueScan(t *testing.T) {
	in := TraceLines{"resolved playlist 900", `item "a, b" added`}
	v, err := in.Value()
	require.NoError(t, err)

	var out TraceLines
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)
}
