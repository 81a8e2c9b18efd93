package protocol

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Authenticate(t *testing.T) {
	raw := `{"type":"AUTHENTICATE","accountId":"acc-1","accountType":"master","credentials":"s3cret"}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	auth, ok := msg.(Authenticate)
	require.True(t, ok)
	assert.Equal(t, "acc-1", auth.AccountID)
	assert.Equal(t, "master", auth.AccountType)
	assert.Equal(t, "s3cret", auth.Credentials)
}

func TestDecode_AccountHeartbeat(t *testing.T) {
	raw := `{"type":"ACCOUNT_HEARTBEAT","accountId":"acc-1","balance":1000.5,"equity":980.25,"openPositionsCount":3}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	hb, ok := msg.(AccountHeartbeat)
	require.True(t, ok)
	assert.Equal(t, 1000.5, hb.Balance)
	assert.Equal(t, 980.25, hb.Equity)
	assert.Equal(t, 3, hb.OpenPositionsCount)
}

func TestDecode_NewMasterSignal(t *testing.T) {
	raw := `{"type":"NEW_MASTER_SIGNAL","masterAccountId":"m-1","symbol":"EURUSD","orderType":"BUY","volume":0.5,"openPrice":1.085,"stopLoss":1.08,"takeProfit":1.095}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	sig, ok := msg.(NewMasterSignal)
	require.True(t, ok)
	assert.Equal(t, "m-1", sig.MasterAccountID)
	assert.Equal(t, "EURUSD", sig.Symbol)
	assert.Equal(t, 0.5, sig.Volume)
}

func TestDecode_TradeResult(t *testing.T) {
	raw := `{"type":"TRADE_RESULT","signalId":"sig-1","tradeId":"trade-9","grossAmount":"125.50"}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	tr, ok := msg.(TradeResult)
	require.True(t, ok)
	assert.Equal(t, "sig-1", tr.SignalID)
	assert.True(t, tr.GrossAmount.Equal(decimal.RequireFromString("125.50")))
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"SELF_DESTRUCT"}`},
		{"empty type", `{"accountId":"acc-1"}`},
		{"not json", `not json at all`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestOutbound_CarryTypeDiscriminator(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		want string
	}{
		{"signal delivered", NewSignalDelivered("s-1", "m-1", "EURUSD", "BUY", 1.5, 7), TypeSignalDelivered},
		{"presence changed", NewPresenceChanged("m-1", "stale"), TypePresenceChanged},
		{"signal accepted", NewSignalAccepted("s-1", 7, 2, false), TypeSignalAccepted},
		{"ack", NewAck(TypeAuthenticate), TypeAck},
		{"error", NewError(CodeValidation, "bad"), TypeError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.msg)
			require.NoError(t, err)

			var env struct {
				Type string `json:"type"`
			}
			require.NoError(t, json.Unmarshal(data, &env))
			assert.Equal(t, tc.want, env.Type)
		})
	}
}

func TestSignalDelivered_WireFormat(t *testing.T) {
	data, err := json.Marshal(NewSignalDelivered("s-1", "m-1", "EURUSD", "BUY", 1.5, 7))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "s-1", decoded["signalId"])
	assert.Equal(t, "m-1", decoded["masterAccountId"])
	assert.Equal(t, 1.5, decoded["volume"])
	assert.Equal(t, float64(7), decoded["sequenceNumber"])
}
