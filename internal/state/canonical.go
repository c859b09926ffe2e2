package state

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// CanonicalBytes for deterministic hashing
func (d DebtEntry) CanonicalBytes() []byte {
	buf := make([]byte, 0, 56)

	// account (16 bytes)
	buf = append(buf, d.Account[:]...)

	// counters (8 bytes LE each)
	buf = appendInt64LE(buf, d.Debt)
	buf = appendInt64LE(buf, d.UnpaidFees)
	buf = appendInt64LE(buf, d.OverSuppliedDebt)
	buf = appendInt64LE(buf, d.UndercollateralizedDebt)
	buf = appendInt64LE(buf, d.MaxLoanIgnoringLiquidity)

	return buf
}

// CanonicalBytes for deterministic hashing
func (p CollateralPosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 44)
	buf = append(buf, p.Account[:]...)
	buf = append(buf, byte(p.Kind))
	buf = appendInt64LE(buf, p.Quantity)
	buf = appendInt64LE(buf, p.ValueAtDeposit)
	buf = appendInt64LE(buf, p.OriginTimestamp)
	return buf
}

// CanonicalBytes for deterministic hashing
func (l Lock) CanonicalBytes() []byte {
	buf := make([]byte, 0, 72)
	buf = appendInt64LE(buf, l.ID)
	buf = append(buf, l.Owner[:]...)
	buf = append(buf, l.Funder[:]...)
	buf = appendInt64LE(buf, l.Amount)
	buf = appendInt64LE(buf, l.UnlockAt)
	return buf
}

// CanonicalBytes for deterministic hashing
func (a Account) CanonicalBytes() []byte {
	buf := make([]byte, 0, 40+16*len(a.Authorized))
	buf = append(buf, a.ID[:]...)
	buf = append(buf, a.Owner[:]...)
	return appendUUIDs(buf, a.Authorized)
}

func appendUUIDs(buf []byte, ids []uuid.UUID) []byte {
	buf = appendInt64LE(buf, int64(len(ids)))
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}
