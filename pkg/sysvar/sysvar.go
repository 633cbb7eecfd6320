// Package sysvar implements the well-known environment accounts: their
// bincode layouts, defaults, and a cache rebuilt from account writes.
package sysvar

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

var errVectorTooLong = errors.New("vector length exceeds remaining data")

// Sysvar is implemented by every sysvar value type.
type Sysvar interface {
	Address() types.Pubkey
	Name() string
	bin.BinaryMarshaler
	bin.BinaryUnmarshaler
}

// Marshal encodes s in its account layout.
func Marshal(s Sysvar) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := s.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.Name(), err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes account data into s. Trailing bytes are ignored.
func Unmarshal(data []byte, s Sysvar) error {
	if err := s.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return fmt.Errorf("decode %s: %w", s.Name(), err)
	}
	return nil
}

// Maximum lengths of the vector sysvars.
const (
	RecentBlockhashesMaxEntries = 150
	SlotHashesMaxEntries        = 512
	StakeHistoryMaxEntries      = 512
)

// accountSizes holds the account data length of sysvars whose encoding
// varies. Their accounts are sized for the maximum number of entries.
var accountSizes = map[types.Pubkey]int{
	types.SysvarRecentBlockhashesAddr: 8 + RecentBlockhashesMaxEntries*(types.HashSize+8),
	types.SysvarSlotHashesAddr:        8 + SlotHashesMaxEntries*(8+types.HashSize),
	types.SysvarStakeHistoryAddr:      8 + StakeHistoryMaxEntries*32,
	types.SysvarSlotHistoryAddr:       1 + 8 + SlotHistoryMaxEntries/8 + 8 + 8,
}

// MarshalAccount encodes s and zero-pads it to the account size of s.
func MarshalAccount(s Sysvar) ([]byte, error) {
	data, err := Marshal(s)
	if err != nil {
		return nil, err
	}
	if size, ok := accountSizes[s.Address()]; ok && len(data) < size {
		data = append(data, make([]byte, size-len(data))...)
	}
	return data, nil
}

func readVecLen(dec *bin.Decoder, entrySize int) (int, error) {
	n, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return 0, err
	}
	if n > uint64(dec.Remaining()/entrySize) {
		return 0, errVectorTooLong
	}
	return int(n), nil
}

func readHash(dec *bin.Decoder) (types.Hash, error) {
	var h types.Hash
	b, err := dec.ReadBytes(types.HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Clock holds the current slot and timing information.
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

func (*Clock) Address() types.Pubkey { return types.SysvarClockAddr }
func (*Clock) Name() string          { return "clock" }

func (c *Clock) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(c.Slot, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteInt64(c.EpochStartTimestamp, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(c.Epoch, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(c.LeaderScheduleEpoch, bin.LE); err != nil {
		return err
	}
	return enc.WriteInt64(c.UnixTimestamp, bin.LE)
}

func (c *Clock) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if c.Slot, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if c.EpochStartTimestamp, err = dec.ReadInt64(bin.LE); err != nil {
		return err
	}
	if c.Epoch, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if c.LeaderScheduleEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	c.UnixTimestamp, err = dec.ReadInt64(bin.LE)
	return err
}

// AccountStorageOverhead is the per-account byte overhead charged by rent.
const AccountStorageOverhead = 128

// Rent holds the rent schedule.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent returns the mainnet rent schedule.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: 3480,
		ExemptionThreshold:  2.0,
		BurnPercent:         50,
	}
}

// MinimumBalance returns the balance an account with dataLen bytes of data
// needs to be rent exempt.
func (r *Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := AccountStorageOverhead + dataLen
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether balance covers the exemption minimum.
func (r *Rent) IsExempt(balance, dataLen uint64) bool {
	return balance >= r.MinimumBalance(dataLen)
}

func (*Rent) Address() types.Pubkey { return types.SysvarRentAddr }
func (*Rent) Name() string          { return "rent" }

func (r *Rent) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(r.LamportsPerByteYear, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteFloat64(r.ExemptionThreshold, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint8(r.BurnPercent)
}

func (r *Rent) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if r.LamportsPerByteYear, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.ExemptionThreshold, err = dec.ReadFloat64(bin.LE); err != nil {
		return err
	}
	r.BurnPercent, err = dec.ReadUint8()
	return err
}

// EpochSchedule describes how slots map onto epochs.
type EpochSchedule struct {
	SlotsPerEpoch            uint64
	LeaderScheduleSlotOffset uint64
	Warmup                   bool
	FirstNormalEpoch         uint64
	FirstNormalSlot          uint64
}

// DefaultEpochSchedule returns the mainnet epoch schedule.
func DefaultEpochSchedule() EpochSchedule {
	return EpochSchedule{
		SlotsPerEpoch:            432000,
		LeaderScheduleSlotOffset: 432000,
		Warmup:                   true,
		FirstNormalEpoch:         14,
		FirstNormalSlot:          524256,
	}
}

func (*EpochSchedule) Address() types.Pubkey { return types.SysvarEpochScheduleAddr }
func (*EpochSchedule) Name() string          { return "epoch_schedule" }

func (e *EpochSchedule) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(e.SlotsPerEpoch, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(e.LeaderScheduleSlotOffset, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteBool(e.Warmup); err != nil {
		return err
	}
	if err := enc.WriteUint64(e.FirstNormalEpoch, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint64(e.FirstNormalSlot, bin.LE)
}

func (e *EpochSchedule) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if e.SlotsPerEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if e.LeaderScheduleSlotOffset, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if e.Warmup, err = dec.ReadBool(); err != nil {
		return err
	}
	if e.FirstNormalEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	e.FirstNormalSlot, err = dec.ReadUint64(bin.LE)
	return err
}

// EpochRewards tracks an in-progress rewards distribution.
type EpochRewards struct {
	DistributionStartingBlockHeight uint64
	NumPartitions                   uint64
	ParentBlockhash                 types.Hash
	// TotalPoints is a u128 split into its low and high words.
	TotalPointsLo      uint64
	TotalPointsHi      uint64
	TotalRewards       uint64
	DistributedRewards uint64
	Active             bool
}

func (*EpochRewards) Address() types.Pubkey { return types.SysvarEpochRewardsAddr }
func (*EpochRewards) Name() string          { return "epoch_rewards" }

func (e *EpochRewards) MarshalWithEncoder(enc *bin.Encoder) error {
	for _, v := range []uint64{e.DistributionStartingBlockHeight, e.NumPartitions} {
		if err := enc.WriteUint64(v, bin.LE); err != nil {
			return err
		}
	}
	if err := enc.WriteBytes(e.ParentBlockhash[:], false); err != nil {
		return err
	}
	for _, v := range []uint64{e.TotalPointsLo, e.TotalPointsHi, e.TotalRewards, e.DistributedRewards} {
		if err := enc.WriteUint64(v, bin.LE); err != nil {
			return err
		}
	}
	return enc.WriteBool(e.Active)
}

func (e *EpochRewards) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if e.DistributionStartingBlockHeight, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if e.NumPartitions, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if e.ParentBlockhash, err = readHash(dec); err != nil {
		return err
	}
	for _, dst := range []*uint64{&e.TotalPointsLo, &e.TotalPointsHi, &e.TotalRewards, &e.DistributedRewards} {
		if *dst, err = dec.ReadUint64(bin.LE); err != nil {
			return err
		}
	}
	e.Active, err = dec.ReadBool()
	return err
}

// Fees is the deprecated fee calculator sysvar.
type Fees struct {
	LamportsPerSignature uint64
}

func (*Fees) Address() types.Pubkey { return types.SysvarFeesAddr }
func (*Fees) Name() string          { return "fees" }

func (f *Fees) MarshalWithEncoder(enc *bin.Encoder) error {
	return enc.WriteUint64(f.LamportsPerSignature, bin.LE)
}

func (f *Fees) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	f.LamportsPerSignature, err = dec.ReadUint64(bin.LE)
	return err
}

// LastRestartSlot holds the slot of the last cluster restart.
type LastRestartSlot struct {
	LastRestartSlot uint64
}

func (*LastRestartSlot) Address() types.Pubkey { return types.SysvarLastRestartSlotAddr }
func (*LastRestartSlot) Name() string          { return "last_restart_slot" }

func (l *LastRestartSlot) MarshalWithEncoder(enc *bin.Encoder) error {
	return enc.WriteUint64(l.LastRestartSlot, bin.LE)
}

func (l *LastRestartSlot) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	l.LastRestartSlot, err = dec.ReadUint64(bin.LE)
	return err
}

// RecentBlockhashEntry pairs a blockhash with the fee rate in force when it
// was produced.
type RecentBlockhashEntry struct {
	Blockhash            types.Hash
	LamportsPerSignature uint64
}

// RecentBlockhashes is the deprecated recent blockhash ring.
type RecentBlockhashes []RecentBlockhashEntry

func (*RecentBlockhashes) Address() types.Pubkey { return types.SysvarRecentBlockhashesAddr }
func (*RecentBlockhashes) Name() string          { return "recent_blockhashes" }

func (r *RecentBlockhashes) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(uint64(len(*r)), bin.LE); err != nil {
		return err
	}
	for _, e := range *r {
		if err := enc.WriteBytes(e.Blockhash[:], false); err != nil {
			return err
		}
		if err := enc.WriteUint64(e.LamportsPerSignature, bin.LE); err != nil {
			return err
		}
	}
	return nil
}

func (r *RecentBlockhashes) UnmarshalWithDecoder(dec *bin.Decoder) error {
	n, err := readVecLen(dec, 40)
	if err != nil {
		return err
	}
	out := make(RecentBlockhashes, n)
	for i := range out {
		if out[i].Blockhash, err = readHash(dec); err != nil {
			return err
		}
		if out[i].LamportsPerSignature, err = dec.ReadUint64(bin.LE); err != nil {
			return err
		}
	}
	*r = out
	return nil
}

// SlotHash pairs a slot with its bank hash.
type SlotHash struct {
	Slot uint64
	Hash types.Hash
}

// SlotHashes lists recent slots with their hashes, newest first.
type SlotHashes []SlotHash

// Get returns the hash recorded for slot.
func (s SlotHashes) Get(slot uint64) (types.Hash, bool) {
	for _, e := range s {
		if e.Slot == slot {
			return e.Hash, true
		}
	}
	return types.Hash{}, false
}

func (*SlotHashes) Address() types.Pubkey { return types.SysvarSlotHashesAddr }
func (*SlotHashes) Name() string          { return "slot_hashes" }

func (s *SlotHashes) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(uint64(len(*s)), bin.LE); err != nil {
		return err
	}
	for _, e := range *s {
		if err := enc.WriteUint64(e.Slot, bin.LE); err != nil {
			return err
		}
		if err := enc.WriteBytes(e.Hash[:], false); err != nil {
			return err
		}
	}
	return nil
}

func (s *SlotHashes) UnmarshalWithDecoder(dec *bin.Decoder) error {
	n, err := readVecLen(dec, 40)
	if err != nil {
		return err
	}
	out := make(SlotHashes, n)
	for i := range out {
		if out[i].Slot, err = dec.ReadUint64(bin.LE); err != nil {
			return err
		}
		if out[i].Hash, err = readHash(dec); err != nil {
			return err
		}
	}
	*s = out
	return nil
}

// SlotHistoryMaxEntries is the number of slots tracked by SlotHistory.
const SlotHistoryMaxEntries = 1024 * 1024

// SlotHistory is a bitmap of which recent slots were produced.
type SlotHistory struct {
	Bits     []uint64
	NextSlot uint64
}

// DefaultSlotHistory returns a history in which only slot 0 exists.
func DefaultSlotHistory() SlotHistory {
	h := SlotHistory{Bits: make([]uint64, SlotHistoryMaxEntries/64)}
	h.Bits[0] = 1
	h.NextSlot = 1
	return h
}

// Add marks slot as produced.
func (h *SlotHistory) Add(slot uint64) {
	if len(h.Bits) == 0 {
		return
	}
	bit := slot % SlotHistoryMaxEntries
	h.Bits[bit/64] |= 1 << (bit % 64)
	h.NextSlot = slot + 1
}

func (*SlotHistory) Address() types.Pubkey { return types.SysvarSlotHistoryAddr }
func (*SlotHistory) Name() string          { return "slot_history" }

func (h *SlotHistory) MarshalWithEncoder(enc *bin.Encoder) error {
	// The bitmap is an Option<Box<[u64]>> followed by its length in bits.
	if len(h.Bits) == 0 {
		if err := enc.WriteUint8(0); err != nil {
			return err
		}
	} else {
		if err := enc.WriteUint8(1); err != nil {
			return err
		}
		if err := enc.WriteUint64(uint64(len(h.Bits)), bin.LE); err != nil {
			return err
		}
		for _, w := range h.Bits {
			if err := enc.WriteUint64(w, bin.LE); err != nil {
				return err
			}
		}
	}
	if err := enc.WriteUint64(uint64(len(h.Bits))*64, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint64(h.NextSlot, bin.LE)
}

func (h *SlotHistory) UnmarshalWithDecoder(dec *bin.Decoder) error {
	present, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	h.Bits = nil
	switch present {
	case 0:
	case 1:
		n, err := readVecLen(dec, 8)
		if err != nil {
			return err
		}
		h.Bits = make([]uint64, n)
		for i := range h.Bits {
			if h.Bits[i], err = dec.ReadUint64(bin.LE); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("invalid option tag %d", present)
	}
	if _, err := dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	h.NextSlot, err = dec.ReadUint64(bin.LE)
	return err
}

// StakeHistoryEntry is the cluster stake summary for one epoch.
type StakeHistoryEntry struct {
	Epoch        uint64
	Effective    uint64
	Activating   uint64
	Deactivating uint64
}

// StakeHistory lists stake summaries, newest first.
type StakeHistory []StakeHistoryEntry

func (*StakeHistory) Address() types.Pubkey { return types.SysvarStakeHistoryAddr }
func (*StakeHistory) Name() string          { return "stake_history" }

func (s *StakeHistory) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(uint64(len(*s)), bin.LE); err != nil {
		return err
	}
	for _, e := range *s {
		for _, v := range []uint64{e.Epoch, e.Effective, e.Activating, e.Deactivating} {
			if err := enc.WriteUint64(v, bin.LE); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StakeHistory) UnmarshalWithDecoder(dec *bin.Decoder) error {
	n, err := readVecLen(dec, 32)
	if err != nil {
		return err
	}
	out := make(StakeHistory, n)
	for i := range out {
		for _, dst := range []*uint64{&out[i].Epoch, &out[i].Effective, &out[i].Activating, &out[i].Deactivating} {
			if *dst, err = dec.ReadUint64(bin.LE); err != nil {
				return err
			}
		}
	}
	*s = out
	return nil
}
