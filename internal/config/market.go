package config

import (
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/ratecurve"
	"LendLedger/internal/state"
	"LendLedger/internal/vault"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// MarketFile is the TOML layout of the lending market parameters.
// Rates and fees are decimal fractions ("0.05" = 5%).
//
//	asset           = "USDC"
//	epoch_duration  = "168h"
//	genesis_us      = 0
//	max_utilization = "0.80"
//
//	[risk]
//	ltv              = "0.50"
//	protocol_fee     = "0.10"
//	reward_route_fee = "0.005"
//	origination_fee  = "0"
//
//	[curve]
//	kind = "piecewise_linear"
//	[[curve.points]]
//	utilization = "0"
//	rate        = "0.05"
type MarketFile struct {
	Asset          string          `toml:"asset"`
	EpochDuration  time.Duration   `toml:"epoch_duration"`
	GenesisMicros  int64           `toml:"genesis_us"`
	MaxUtilization decimal.Decimal `toml:"max_utilization"`
	Risk           RiskFile        `toml:"risk"`
	Curve          CurveFile       `toml:"curve"`
}

type RiskFile struct {
	LTV            decimal.Decimal `toml:"ltv"`
	ProtocolFee    decimal.Decimal `toml:"protocol_fee"`
	RewardRouteFee decimal.Decimal `toml:"reward_route_fee"`
	OriginationFee decimal.Decimal `toml:"origination_fee"`
}

type CurveFile struct {
	Kind   string       `toml:"kind"`
	Points []CurvePoint `toml:"points"`
	Kink   *KinkFile    `toml:"kink"`
}

type CurvePoint struct {
	Utilization decimal.Decimal `toml:"utilization"`
	Rate        decimal.Decimal `toml:"rate"`
}

type KinkFile struct {
	Base           decimal.Decimal `toml:"base"`
	Multiplier     decimal.Decimal `toml:"multiplier"`
	JumpMultiplier decimal.Decimal `toml:"jump_multiplier"`
	Kink           decimal.Decimal `toml:"kink"`
}

// Market is the validated, basis-point form of a MarketFile.
type Market struct {
	Vault     vault.Config
	Risk      state.RiskParams
	CurveSpec ratecurve.Spec
	Curve     ratecurve.Curve
}

const DefaultEpochDuration = 7 * 24 * time.Hour

// DefaultMarket reproduces the reference parameters: USDC pool, LTV 50%,
// utilization cap 80%, reference rate curve, 7-day epochs, no origination
// fee.
func DefaultMarket() Market {
	curve := ratecurve.Default()
	risk := state.DefaultRiskParams
	return Market{
		Vault: vault.Config{
			Asset:             ledger.AssetUSDC,
			Clock:             fpmath.EpochClock{DurationMicros: DefaultEpochDuration.Microseconds()},
			OriginationFeeBps: risk.OriginationFeeBps,
			MaxUtilizationBps: vault.DefaultMaxUtilizationBps,
		},
		Risk:      risk,
		CurveSpec: ratecurve.Describe(curve),
		Curve:     curve,
	}
}

// LoadMarket decodes a TOML market file. Keys the file omits keep their
// default values; unknown keys are an error.
func LoadMarket(path string) (Market, error) {
	if path == "" {
		return DefaultMarket(), nil
	}
	var f MarketFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return Market{}, fmt.Errorf("decode market %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Market{}, fmt.Errorf("market %s: unknown keys %v", path, undecoded)
	}
	return f.build(meta)
}

// ParseMarket decodes market TOML from a string.
func ParseMarket(data string) (Market, error) {
	var f MarketFile
	meta, err := toml.Decode(data, &f)
	if err != nil {
		return Market{}, fmt.Errorf("decode market: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Market{}, fmt.Errorf("market: unknown keys %v", undecoded)
	}
	return f.build(meta)
}

func (f MarketFile) build(meta toml.MetaData) (Market, error) {
	m := DefaultMarket()

	if meta.IsDefined("asset") {
		id, ok := ledger.GetAssetID(f.Asset)
		if !ok {
			return Market{}, fmt.Errorf("market: unknown asset %q", f.Asset)
		}
		m.Vault.Asset = id
	}
	if meta.IsDefined("epoch_duration") {
		m.Vault.Clock.DurationMicros = f.EpochDuration.Microseconds()
	}
	m.Vault.Clock.GenesisMicros = f.GenesisMicros

	fields := []struct {
		key string
		val decimal.Decimal
		dst *int64
	}{
		{"max_utilization", f.MaxUtilization, &m.Vault.MaxUtilizationBps},
		{"risk.ltv", f.Risk.LTV, &m.Risk.LTVBps},
		{"risk.protocol_fee", f.Risk.ProtocolFee, &m.Risk.ProtocolFeeBps},
		{"risk.reward_route_fee", f.Risk.RewardRouteFee, &m.Risk.RewardRouteFeeBps},
		{"risk.origination_fee", f.Risk.OriginationFee, &m.Risk.OriginationFeeBps},
	}
	for _, fl := range fields {
		if !meta.IsDefined(strings.Split(fl.key, ".")...) {
			continue
		}
		bps, err := ToBps(fl.val)
		if err != nil {
			return Market{}, fmt.Errorf("market %s: %w", fl.key, err)
		}
		*fl.dst = bps
	}
	m.Vault.OriginationFeeBps = m.Risk.OriginationFeeBps

	if meta.IsDefined("curve") {
		spec, err := f.Curve.spec()
		if err != nil {
			return Market{}, err
		}
		curve, err := ratecurve.Build(spec)
		if err != nil {
			return Market{}, fmt.Errorf("market curve: %w", err)
		}
		m.CurveSpec = spec
		m.Curve = curve
	}

	if err := m.Vault.Validate(); err != nil {
		return Market{}, err
	}
	if err := state.ValidateRiskParams(m.Risk); err != nil {
		return Market{}, fmt.Errorf("market risk: %w", err)
	}
	return m, nil
}

func (c CurveFile) spec() (ratecurve.Spec, error) {
	spec := ratecurve.Spec{Kind: c.Kind}
	for i, p := range c.Points {
		u, err := ToBps(p.Utilization)
		if err != nil {
			return spec, fmt.Errorf("market curve point %d utilization: %w", i, err)
		}
		r, err := ToBps(p.Rate)
		if err != nil {
			return spec, fmt.Errorf("market curve point %d rate: %w", i, err)
		}
		spec.Points = append(spec.Points, ratecurve.Point{UtilizationBps: u, RateBps: r})
	}
	if c.Kink != nil {
		var k ratecurve.Kink
		for _, fl := range []struct {
			name string
			val  decimal.Decimal
			dst  *int64
		}{
			{"base", c.Kink.Base, &k.BaseBps},
			{"multiplier", c.Kink.Multiplier, &k.MultiplierBps},
			{"jump_multiplier", c.Kink.JumpMultiplier, &k.JumpMultiplierBps},
			{"kink", c.Kink.Kink, &k.KinkBps},
		} {
			bps, err := ToBps(fl.val)
			if err != nil {
				return spec, fmt.Errorf("market curve kink %s: %w", fl.name, err)
			}
			*fl.dst = bps
		}
		spec.Kink = &k
	}
	return spec, nil
}

var bpsScale = decimal.NewFromInt(fpmath.BasisPoints)

// ToBps converts a decimal fraction to whole basis points. Fractions finer
// than one basis point are rejected rather than rounded.
func ToBps(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(bpsScale)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%s is not a whole number of basis points", d.String())
	}
	if scaled.IsNegative() {
		return 0, fmt.Errorf("%s is negative", d.String())
	}
	return scaled.IntPart(), nil
}

// CoreConfig assembles the deterministic core's configuration.
func (m Market) CoreConfig(startSequence int64, idempotencyTTL time.Duration) core.Config {
	return core.Config{
		StartSequence:  startSequence,
		Vault:          m.Vault,
		Curve:          m.Curve,
		Risk:           m.Risk,
		IdempotencyTTL: idempotencyTTL,
	}
}
