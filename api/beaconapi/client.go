// Package beaconapi is the thin HTTP surface the ePBS core consumes from a beacon node: PTC
// duty lookups, payload-attestation data and publication, proposer preferences, builder bid
// submission, and envelope recovery. Transport errors and non-2xx statuses surface as errors;
// retry and fallback policy live with the callers, except for the FirstSuccess helper used by
// the payload-attestation data fetch.
package beaconapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/cache"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

const (
	ptcDutiesPath              = "/eth/v1/validator/duties/ptc/%d"
	payloadAttestationDataPath = "/eth/v1/validator/payload_attestation_data"
	payloadAttestationPoolPath = "/eth/v1/beacon/pool/payload_attestations"
	proposerPreferencesPath    = "/eth/v1/beacon/pool/proposer_preferences"
	executionEnvelopePath      = "/eth/v1/beacon/execution_payload_envelope"
	builderBidsPath            = "/eth/v1/builder/bids"
	proposerLookaheadPath      = "/eth/v1/beacon/states/%s/proposer_lookahead"

	defaultTimeout = 10 * time.Second
)

// ErrNotOK wraps any non-2xx response whose status this package does not map more precisely.
var ErrNotOK = errors.New("did not receive 2xx response from API")

// ErrGloasNotScheduled is returned when a Gloas-only endpoint reports that the fork epoch is
// unset on the serving node (HTTP 400 with the fork-guard text).
var ErrGloasNotScheduled = errors.New("Gloas is not scheduled")

// Client talks to one beacon node.
type Client struct {
	hc      *http.Client
	baseURL *url.URL
}

// NewClient parses host (scheme://host:port) into a client with the default request timeout.
func NewClient(host string) (*Client, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid beacon node url %q", host)
	}
	return &Client{
		hc:      &http.Client{Timeout: defaultTimeout},
		baseURL: u,
	}, nil
}

func (c *Client) urlFor(path string) string {
	u := *c.baseURL
	u.Path = path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, query url.Values) ([]byte, error) {
	u := *c.baseURL
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestsTotal.WithLabelValues(path).Inc()
	resp, err := c.hc.Do(req)
	if err != nil {
		requestFailures.WithLabelValues(path).Inc()
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		requestFailures.WithLabelValues(path).Inc()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestFailures.WithLabelValues(path).Inc()
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(out), ErrGloasNotScheduled.Error()) {
			return nil, ErrGloasNotScheduled
		}
		return nil, errors.Wrapf(ErrNotOK, "status %d, body %q", resp.StatusCode, string(out))
	}
	return out, nil
}

type ptcDutyJSON struct {
	ValidatorIndex string `json:"validator_index"`
	Pubkey         string `json:"pubkey"`
	Slot           string `json:"slot"`
}

type ptcDutiesResponseJSON struct {
	Data []ptcDutyJSON `json:"data"`
}

// PTCDuties fetches PTC duties for epoch, scoped to validatorIndices.
// POST /eth/v1/validator/duties/ptc/{epoch}.
func (c *Client) PTCDuties(ctx context.Context, epoch primitives.Epoch, validatorIndices []primitives.ValidatorIndex) ([]cache.PtcDutyData, error) {
	req := make([]string, len(validatorIndices))
	for i, v := range validatorIndices {
		req[i] = strconv.FormatUint(uint64(v), 10)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	out, err := c.do(ctx, http.MethodPost, fmt.Sprintf(ptcDutiesPath, epoch), body, nil)
	if err != nil {
		return nil, err
	}
	var resp ptcDutiesResponseJSON
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, errors.Wrap(err, "decode ptc duties response")
	}
	duties := make([]cache.PtcDutyData, 0, len(resp.Data))
	for _, d := range resp.Data {
		idx, err := strconv.ParseUint(d.ValidatorIndex, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad validator index %q", d.ValidatorIndex)
		}
		slot, err := strconv.ParseUint(d.Slot, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad slot %q", d.Slot)
		}
		pk, err := decodePubkey(d.Pubkey)
		if err != nil {
			return nil, err
		}
		duties = append(duties, cache.PtcDutyData{
			ValidatorIndex: primitives.ValidatorIndex(idx),
			Pubkey:         pk,
			Slot:           primitives.Slot(slot),
		})
	}
	return duties, nil
}

type payloadAttestationDataJSON struct {
	BeaconBlockRoot   string `json:"beacon_block_root"`
	Slot              string `json:"slot"`
	PayloadPresent    bool   `json:"payload_present"`
	BlobDataAvailable bool   `json:"blob_data_available"`
}

type payloadAttestationDataResponseJSON struct {
	Data payloadAttestationDataJSON `json:"data"`
}

// PayloadAttestationData fetches the attestation content for slot.
// GET /eth/v1/validator/payload_attestation_data?slot={slot}.
func (c *Client) PayloadAttestationData(ctx context.Context, slot primitives.Slot) (*gloas.PayloadAttestationData, error) {
	q := url.Values{}
	q.Set("slot", strconv.FormatUint(uint64(slot), 10))
	out, err := c.do(ctx, http.MethodGet, payloadAttestationDataPath, nil, q)
	if err != nil {
		return nil, err
	}
	var resp payloadAttestationDataResponseJSON
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, errors.Wrap(err, "decode payload attestation data")
	}
	root, err := decodeRoot(resp.Data.BeaconBlockRoot)
	if err != nil {
		return nil, err
	}
	gotSlot, err := strconv.ParseUint(resp.Data.Slot, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "bad slot %q", resp.Data.Slot)
	}
	return &gloas.PayloadAttestationData{
		BeaconBlockRoot:   root,
		Slot:              primitives.Slot(gotSlot),
		PayloadPresent:    resp.Data.PayloadPresent,
		BlobDataAvailable: resp.Data.BlobDataAvailable,
	}, nil
}

type payloadAttestationMessageJSON struct {
	ValidatorIndex string                     `json:"validator_index"`
	Data           payloadAttestationDataJSON `json:"data"`
	Signature      string                     `json:"signature"`
}

// PublishPayloadAttestations posts signed messages to the BN's pool.
// POST /eth/v1/beacon/pool/payload_attestations.
func (c *Client) PublishPayloadAttestations(ctx context.Context, msgs []*gloas.PayloadAttestationMessage) error {
	req := make([]payloadAttestationMessageJSON, len(msgs))
	for i, m := range msgs {
		req[i] = payloadAttestationMessageJSON{
			ValidatorIndex: strconv.FormatUint(uint64(m.ValidatorIndex), 10),
			Data: payloadAttestationDataJSON{
				BeaconBlockRoot:   hexEncode(m.Data.BeaconBlockRoot[:]),
				Slot:              strconv.FormatUint(uint64(m.Data.Slot), 10),
				PayloadPresent:    m.Data.PayloadPresent,
				BlobDataAvailable: m.Data.BlobDataAvailable,
			},
			Signature: hexEncode(m.Signature[:]),
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, payloadAttestationPoolPath, body, nil)
	return err
}

type proposerPreferencesJSON struct {
	Message struct {
		ProposerIndex string `json:"proposer_index"`
		Slot          string `json:"slot"`
		FeeRecipient  string `json:"fee_recipient"`
		GasLimit      string `json:"gas_limit"`
	} `json:"message"`
	Signature string `json:"signature"`
}

// PublishProposerPreferences posts a signed proposer-preferences message.
// POST /eth/v1/beacon/pool/proposer_preferences.
func (c *Client) PublishProposerPreferences(ctx context.Context, prefs *gloas.SignedProposerPreferences) error {
	var req proposerPreferencesJSON
	req.Message.ProposerIndex = strconv.FormatUint(uint64(prefs.Message.ProposerIndex), 10)
	req.Message.Slot = strconv.FormatUint(uint64(prefs.Message.Slot), 10)
	req.Message.FeeRecipient = hexEncode(prefs.Message.FeeRecipient[:])
	req.Message.GasLimit = strconv.FormatUint(prefs.Message.GasLimit, 10)
	req.Signature = hexEncode(prefs.Signature[:])
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, proposerPreferencesPath, body, nil)
	return err
}

// postSSZ posts an SSZ-encoded body; bids and envelopes travel in their gossip wire form
// rather than JSON.
func (c *Client) postSSZ(ctx context.Context, path string, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urlFor(path), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	requestsTotal.WithLabelValues(path).Inc()
	resp, err := c.hc.Do(req)
	if err != nil {
		requestFailures.WithLabelValues(path).Inc()
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestFailures.WithLabelValues(path).Inc()
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(out), ErrGloasNotScheduled.Error()) {
			return ErrGloasNotScheduled
		}
		return errors.Wrapf(ErrNotOK, "status %d, body %q", resp.StatusCode, string(out))
	}
	return nil
}

// SubmitBid posts a signed execution-payload bid to the builder endpoint.
// POST /eth/v1/builder/bids.
func (c *Client) SubmitBid(ctx context.Context, bid *gloas.SignedExecutionPayloadBid) error {
	raw, err := bid.MarshalSSZ()
	if err != nil {
		return errors.Wrap(err, "marshal bid")
	}
	return c.postSSZ(ctx, builderBidsPath, raw)
}

// SubmitExecutionPayloadEnvelope posts a signed envelope for the BN to gossip.
// POST /eth/v1/beacon/execution_payload_envelope.
func (c *Client) SubmitExecutionPayloadEnvelope(ctx context.Context, env *gloas.SignedExecutionPayloadEnvelope) error {
	raw, err := env.MarshalSSZ()
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return c.postSSZ(ctx, executionEnvelopePath, raw)
}

// ExecutionPayloadEnvelope recovers the envelope stored for blockID (a root or slot label),
// used when building inclusion proofs. GET /eth/v1/beacon/execution_payload_envelope/{block_id}.
func (c *Client) ExecutionPayloadEnvelope(ctx context.Context, blockID string) (*gloas.SignedExecutionPayloadEnvelope, error) {
	out, err := c.do(ctx, http.MethodGet, executionEnvelopePath+"/"+blockID, nil, nil)
	if err != nil {
		return nil, err
	}
	env := &gloas.SignedExecutionPayloadEnvelope{}
	if err := env.UnmarshalSSZ(out); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

type proposerLookaheadResponseJSON struct {
	Data []string `json:"data"`
}

// ProposerLookahead fetches the proposer lookahead vector for a state. Fulu+ only; pre-Fulu
// nodes answer 400, surfaced as ErrNotOK.
// GET /eth/v1/beacon/states/{id}/proposer_lookahead.
func (c *Client) ProposerLookahead(ctx context.Context, stateID string) ([]primitives.ValidatorIndex, error) {
	out, err := c.do(ctx, http.MethodGet, fmt.Sprintf(proposerLookaheadPath, stateID), nil, nil)
	if err != nil {
		return nil, err
	}
	var resp proposerLookaheadResponseJSON
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, errors.Wrap(err, "decode proposer lookahead")
	}
	indices := make([]primitives.ValidatorIndex, 0, len(resp.Data))
	for _, s := range resp.Data {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad proposer index %q", s)
		}
		indices = append(indices, primitives.ValidatorIndex(v))
	}
	return indices, nil
}

// FirstSuccess tries fn against each client in order, returning the first success. All-failed
// returns the last error. This is the fallback discipline the payload-attestation service
// uses for its data fetch.
func FirstSuccess[T any](ctx context.Context, clients []*Client, fn func(ctx context.Context, c *Client) (T, error)) (T, error) {
	var lastErr error
	for _, c := range clients {
		out, err := fn(ctx, c)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	var zero T
	if lastErr == nil {
		lastErr = errors.New("no beacon node clients configured")
	}
	return zero, lastErr
}

func hexEncode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeRoot(s string) (gloas.Root, error) {
	var root gloas.Root
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 32 {
		return root, errors.Errorf("bad root %q", s)
	}
	copy(root[:], b)
	return root, nil
}

func decodePubkey(s string) (gloas.BLSPubkey, error) {
	var pk gloas.BLSPubkey
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 48 {
		return pk, errors.Errorf("bad pubkey %q", s)
	}
	copy(pk[:], b)
	return pk, nil
}
