package raffle

import (
	"encoding/binary"

	"github.com/solcino/raffle-engine/internal/types"
)

// Account data sizes. The layouts are fixed width, little-endian, and part
// of the protocol surface: clients and the RPC layer decode them directly.
const (
	// ConfigSize: initialized (1) + admin (32) + treasury (32) +
	// ticket_price (8) + fee_bps (2).
	ConfigSize = 1 + 32 + 32 + 8 + 2

	// RaffleSize: initialized (1) + authority (32) + title (32) +
	// end_time (8) + ticket_price (8) + status (1) + winner (32) +
	// tickets_sold (8) + fee_bps (2) + treasury (32) + vrf_account (32) +
	// vrf_in_progress (1).
	RaffleSize = 1 + 32 + 32 + 8 + 8 + 1 + 32 + 8 + 2 + 32 + 32 + 1

	// TicketPurchaseSize: initialized (1) + raffle (32) + purchaser (32) +
	// first_ticket (8) + ticket_count (8) + purchase_time (8).
	TicketPurchaseSize = 1 + 32 + 32 + 8 + 8 + 8
)

// TitleSize is the fixed byte width of a raffle title.
const TitleSize = 32

// Raffle status values.
const (
	StatusActive byte = iota
	StatusComplete
)

// MaxFeeBps is the highest permitted fee, 100% in basis points.
const MaxFeeBps = 10_000

// Config is the program-wide configuration singleton. It lives at the
// program-derived address with seed "config" and holds the defaults copied
// into each raffle at creation time.
type Config struct {
	Initialized bool
	Admin       types.Pubkey
	Treasury    types.Pubkey
	TicketPrice uint64
	FeeBps      uint16
}

// DecodeConfig deserializes a config account.
func DecodeConfig(data []byte) (*Config, error) {
	if len(data) != ConfigSize {
		return nil, ErrMalformedAccount
	}
	c := &Config{Initialized: data[0] == 1}
	copy(c.Admin[:], data[1:33])
	copy(c.Treasury[:], data[33:65])
	c.TicketPrice = binary.LittleEndian.Uint64(data[65:73])
	c.FeeBps = binary.LittleEndian.Uint16(data[73:75])
	return c, nil
}

// Encode serializes the config into buf, which must be ConfigSize bytes.
func (c *Config) Encode(buf []byte) error {
	if len(buf) != ConfigSize {
		return ErrMalformedAccount
	}
	buf[0] = boolByte(c.Initialized)
	copy(buf[1:33], c.Admin[:])
	copy(buf[33:65], c.Treasury[:])
	binary.LittleEndian.PutUint64(buf[65:73], c.TicketPrice)
	binary.LittleEndian.PutUint16(buf[73:75], c.FeeBps)
	return nil
}

// Raffle is one raffle instance. Pricing, fee, and treasury are snapshotted
// from the config at creation; later config updates do not affect it.
type Raffle struct {
	Initialized   bool
	Authority     types.Pubkey
	Title         [TitleSize]byte
	EndTime       int64
	TicketPrice   uint64
	Status        byte
	Winner        types.Pubkey
	TicketsSold   uint64
	FeeBps        uint16
	Treasury      types.Pubkey
	VrfAccount    types.Pubkey
	VrfInProgress bool
}

// DecodeRaffle deserializes a raffle account.
func DecodeRaffle(data []byte) (*Raffle, error) {
	if len(data) != RaffleSize {
		return nil, ErrMalformedAccount
	}
	r := &Raffle{Initialized: data[0] == 1}
	copy(r.Authority[:], data[1:33])
	copy(r.Title[:], data[33:65])
	r.EndTime = int64(binary.LittleEndian.Uint64(data[65:73]))
	r.TicketPrice = binary.LittleEndian.Uint64(data[73:81])
	r.Status = data[81]
	copy(r.Winner[:], data[82:114])
	r.TicketsSold = binary.LittleEndian.Uint64(data[114:122])
	r.FeeBps = binary.LittleEndian.Uint16(data[122:124])
	copy(r.Treasury[:], data[124:156])
	copy(r.VrfAccount[:], data[156:188])
	r.VrfInProgress = data[188] == 1
	return r, nil
}

// Encode serializes the raffle into buf, which must be RaffleSize bytes.
func (r *Raffle) Encode(buf []byte) error {
	if len(buf) != RaffleSize {
		return ErrMalformedAccount
	}
	buf[0] = boolByte(r.Initialized)
	copy(buf[1:33], r.Authority[:])
	copy(buf[33:65], r.Title[:])
	binary.LittleEndian.PutUint64(buf[65:73], uint64(r.EndTime))
	binary.LittleEndian.PutUint64(buf[73:81], r.TicketPrice)
	buf[81] = r.Status
	copy(buf[82:114], r.Winner[:])
	binary.LittleEndian.PutUint64(buf[114:122], r.TicketsSold)
	binary.LittleEndian.PutUint16(buf[122:124], r.FeeBps)
	copy(buf[124:156], r.Treasury[:])
	copy(buf[156:188], r.VrfAccount[:])
	buf[188] = boolByte(r.VrfInProgress)
	return nil
}

// TitleString returns the title with trailing zero padding stripped.
func (r *Raffle) TitleString() string {
	end := len(r.Title)
	for end > 0 && r.Title[end-1] == 0 {
		end--
	}
	return string(r.Title[:end])
}

// TicketPurchase records one purchase: a contiguous run of ticket indices
// [FirstTicket, FirstTicket+TicketCount) held by Purchaser. Records are
// immutable once written; repeat buyers get a new record per purchase.
type TicketPurchase struct {
	Initialized  bool
	Raffle       types.Pubkey
	Purchaser    types.Pubkey
	FirstTicket  uint64
	TicketCount  uint64
	PurchaseTime int64
}

// DecodeTicketPurchase deserializes a ticket purchase account.
func DecodeTicketPurchase(data []byte) (*TicketPurchase, error) {
	if len(data) != TicketPurchaseSize {
		return nil, ErrMalformedAccount
	}
	t := &TicketPurchase{Initialized: data[0] == 1}
	copy(t.Raffle[:], data[1:33])
	copy(t.Purchaser[:], data[33:65])
	t.FirstTicket = binary.LittleEndian.Uint64(data[65:73])
	t.TicketCount = binary.LittleEndian.Uint64(data[73:81])
	t.PurchaseTime = int64(binary.LittleEndian.Uint64(data[81:89]))
	return t, nil
}

// Encode serializes the record into buf, which must be TicketPurchaseSize bytes.
func (t *TicketPurchase) Encode(buf []byte) error {
	if len(buf) != TicketPurchaseSize {
		return ErrMalformedAccount
	}
	buf[0] = boolByte(t.Initialized)
	copy(buf[1:33], t.Raffle[:])
	copy(buf[33:65], t.Purchaser[:])
	binary.LittleEndian.PutUint64(buf[65:73], t.FirstTicket)
	binary.LittleEndian.PutUint64(buf[73:81], t.TicketCount)
	binary.LittleEndian.PutUint64(buf[81:89], uint64(t.PurchaseTime))
	return nil
}

// Contains reports whether the winning ticket index falls in this record.
func (t *TicketPurchase) Contains(index uint64) bool {
	return index >= t.FirstTicket && index-t.FirstTicket < t.TicketCount
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
