package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterBytes(level uint16, value uint32, cc string) []byte {
	return []byte{
		byte(level), byte(level >> 8),
		byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24),
		cc[0], cc[1], cc[2],
	}
}

func TestHandleGetAllLevelsDecodesNineByteCounters(t *testing.T) {
	body := []byte{0x02}
	body = append(body, counterBytes(0, 100, "EUR")...)
	body = append(body, counterBytes(1, 1000000, "EUR")...)

	p := newTestPeer(t, [][]byte{okFrame(0, body)})
	r := New(p, nil)

	out := r.Dispatch([]byte(`{"msgId":"m1","cmd":"get-all-levels"}`))
	var resp struct {
		Levels []struct {
			Level uint16 `json:"level"`
			Value uint32 `json:"value"`
			CC    string `json:"cc"`
		} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.Levels, 2)
	assert.Equal(t, uint32(100), resp.Levels[0].Value)
	assert.Equal(t, uint16(1), resp.Levels[1].Level)
	assert.Equal(t, uint32(1000000), resp.Levels[1].Value)
	assert.Equal(t, "EUR", resp.Levels[1].CC)
}

func TestHandleCashboxPayoutOperationDataAppendsUnknownQty(t *testing.T) {
	body := []byte{0x01}
	body = append(body, counterBytes(3, 2500, "EUR")...)
	body = append(body, 0x07, 0x00, 0x00) // qtyUnknown = 7

	p := newTestPeer(t, [][]byte{okFrame(0, body)})
	r := New(p, nil)

	out := r.Dispatch([]byte(`{"msgId":"m1","cmd":"cashbox-payout-operation-data"}`))
	var resp struct {
		Levels []map[string]interface{} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.Levels, 2)
	assert.Equal(t, float64(0), resp.Levels[1]["value"])
	assert.Equal(t, float64(7), resp.Levels[1]["level"])
}

func TestHandleInhibitChannelsIsStateless(t *testing.T) {
	p := newTestPeer(t, [][]byte{okFrame(0, nil)})
	p.SetChannelInhibits(0x00)
	r := New(p, nil)

	out := r.Dispatch([]byte(`{"msgId":"m1","cmd":"inhibit-channels","channels":"1,2"}`))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "ok", resp["code"])
	assert.Equal(t, uint16(0x00), p.ChannelInhibits, "inhibit-channels must not persist state")
}

func TestHandleDisableChannelsPersistsFromPriorState(t *testing.T) {
	p := newTestPeer(t, [][]byte{okFrame(0, nil)})
	p.SetChannelInhibits(0x03)
	r := New(p, nil)

	out := r.Dispatch([]byte(`{"msgId":"m1","cmd":"disable-channels","channels":"1"}`))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "ok", resp["code"])
	assert.Equal(t, uint16(0x02), p.ChannelInhibits)
}
