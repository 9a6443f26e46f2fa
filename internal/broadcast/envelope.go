package broadcast

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps one published event for cross-instance relay. It carries
// enough metadata for a receiving instance to detect gaps
// (per-channel Seq), ignore its own echoes (SourceInstance), and reject a
// forged or corrupted message (MAC) before ever fanning it out to a
// websocket client. Grounded in RohanRaikwar-algo-sys-v1's
// `gateway.Broadcaster` envelope (channel/data/seq/ts), with SourceInstance
// and MAC added — the corpus has no precedent for either, since the
// teacher and RohanRaikwar's gateway both assume a single trusted Redis
// deployment with no need to authenticate the publisher.
type Envelope struct {
	Channel        string          `json:"channel"`
	Data           json.RawMessage `json:"data"`
	Seq            int64           `json:"seq"`
	SourceInstance string          `json:"source_instance"`
	Timestamp      time.Time       `json:"ts"`
	MAC            string          `json:"mac"`
}

// signingPayload returns the bytes the MAC is computed over — everything
// except the MAC field itself, in a fixed field order so signer and
// verifier always agree regardless of map/JSON field ordering.
func signingPayload(channel string, data json.RawMessage, seq int64, source string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%d|%s", channel, seq, source, ts.UnixNano(), string(data)))
}

// sign computes the envelope's keyed MAC using crypto/hmac + crypto/sha256.
// A keyed MAC is exactly what the standard library's hmac package exists
// for; see DESIGN.md for why no third-party package is warranted here.
func sign(key []byte, channel string, data json.RawMessage, seq int64, source string, ts time.Time) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(signingPayload(channel, data, seq, source, ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewEnvelope builds and signs an envelope ready to publish.
func NewEnvelope(key []byte, channel string, data json.RawMessage, seq int64, source string, ts time.Time) Envelope {
	return Envelope{
		Channel:        channel,
		Data:           data,
		Seq:            seq,
		SourceInstance: source,
		Timestamp:      ts,
		MAC:            sign(key, channel, data, seq, source, ts),
	}
}

// Verify reports whether e's MAC is valid for key, using constant-time
// comparison (hmac.Equal) so the check itself can't leak timing
// information about the expected MAC.
func (e Envelope) Verify(key []byte) bool {
	want := sign(key, e.Channel, e.Data, e.Seq, e.SourceInstance, e.Timestamp)
	return hmac.Equal([]byte(want), []byte(e.MAC))
}

func marshalEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
