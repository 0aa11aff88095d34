package iostate

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/oracle"
	"github.com/zkrollup/zkos/resources"
)

func newTestResources() *resources.Resources {
	r := resources.FromErgsAndNative(10_000_000, resources.NewDecreasingCounter(10_000_000))
	return &r
}

func TestStorageColdThenWarm(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	c := NewStorageCache(config.Default())
	res := newTestResources()
	key := StorageKey{Address: types.HexToAddress("0x01"), Slot: types.HexToHash("0x02")}

	before := res.Ergs()
	if _, err := c.Read(o, res, key); err != nil {
		t.Fatalf("cold read: %v", err)
	}
	coldCost := before - res.Ergs()

	before = res.Ergs()
	if _, err := c.Read(o, res, key); err != nil {
		t.Fatalf("warm read: %v", err)
	}
	warmCost := before - res.Ergs()

	if warmCost >= coldCost {
		t.Fatalf("expected warm read cheaper than cold: warm=%d cold=%d", warmCost, coldCost)
	}
}

func TestStorageWriteRoundTrip(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	c := NewStorageCache(config.Default())
	res := newTestResources()
	key := StorageKey{Address: types.HexToAddress("0x01"), Slot: types.HexToHash("0x02")}
	val := types.HexToHash("0xbeef")

	if err := c.Write(o, res, key, val); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := c.Read(o, res, key)
	if err != nil {
		t.Fatalf("read after write: %v", err)
	}
	if got != val {
		t.Fatalf("got %x want %x", got, val)
	}
}

func TestStorageRollback(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	c := NewStorageCache(config.Default())
	res := newTestResources()
	key := StorageKey{Address: types.HexToAddress("0x01"), Slot: types.HexToHash("0x02")}

	ckpt := c.StartFrame()
	if err := c.Write(o, res, key, types.HexToHash("0x01")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Rollback(ckpt)
	got, err := c.Read(o, res, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != (types.Hash{}) {
		t.Fatalf("expected rollback to restore zero, got %x", got)
	}
}

func TestTwoAddressesDoNotShareASlot(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	c := NewStorageCache(config.Default())
	res := newTestResources()
	slot := types.HexToHash("0x02")
	keyA := StorageKey{Address: types.HexToAddress("0xa1"), Slot: slot}
	keyB := StorageKey{Address: types.HexToAddress("0xb2"), Slot: slot}

	if err := c.Write(o, res, keyA, types.HexToHash("0x01")); err != nil {
		t.Fatalf("write a: %v", err)
	}
	got, err := c.Read(o, res, keyB)
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	if got != (types.Hash{}) {
		t.Fatalf("expected account b's slot untouched, got %x", got)
	}
}

func TestTransientResetOnNewTx(t *testing.T) {
	c := NewTransientCache(config.Default())
	res := newTestResources()
	key := StorageKey{Address: types.HexToAddress("0x01"), Slot: types.HexToHash("0x02")}

	if err := c.Write(res, key, types.HexToHash("0x09")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.BeginNewTx()
	got, err := c.Read(res, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != (types.Hash{}) {
		t.Fatalf("expected transient storage cleared at tx boundary, got %x", got)
	}
}

func TestStorageWarmResetOnNewTx(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	c := NewStorageCache(config.Default())
	res := newTestResources()
	key := StorageKey{Address: types.HexToAddress("0x01"), Slot: types.HexToHash("0x02")}

	if _, err := c.Read(o, res, key); err != nil {
		t.Fatalf("warm-up read: %v", err)
	}
	before := res.Ergs()
	if _, err := c.Read(o, res, key); err != nil {
		t.Fatalf("warm read: %v", err)
	}
	warmCost := before - res.Ergs()

	c.BeginNewTx()

	before = res.Ergs()
	if _, err := c.Read(o, res, key); err != nil {
		t.Fatalf("read after BeginNewTx: %v", err)
	}
	coldCostAgain := before - res.Ergs()

	if coldCostAgain <= warmCost {
		t.Fatalf("expected slot cold again after BeginNewTx: cold=%d warm=%d", coldCostAgain, warmCost)
	}
}

func TestAccountWarmResetOnNewTx(t *testing.T) {
	addr := types.HexToAddress("0x01")
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	c := NewAccountCache(config.Default())
	res := newTestResources()

	if _, err := c.Read(o, res, addr, RequestNonce); err != nil {
		t.Fatalf("warm-up read: %v", err)
	}
	before := res.Ergs()
	if _, err := c.Read(o, res, addr, RequestNonce); err != nil {
		t.Fatalf("warm read: %v", err)
	}
	warmCost := before - res.Ergs()

	c.BeginNewTx()

	before = res.Ergs()
	if _, err := c.Read(o, res, addr, RequestNonce); err != nil {
		t.Fatalf("read after BeginNewTx: %v", err)
	}
	coldCostAgain := before - res.Ergs()

	if coldCostAgain <= warmCost {
		t.Fatalf("expected address cold again after BeginNewTx: cold=%d warm=%d", coldCostAgain, warmCost)
	}
}

func TestEventJournalRollback(t *testing.T) {
	j := &EventJournal{}
	ckpt := j.StartFrame()
	j.Emit(Event{TxNumber: 1, Address: types.HexToAddress("0x1")})
	if len(j.Events()) != 1 {
		t.Fatalf("expected 1 event")
	}
	j.Rollback(ckpt)
	if len(j.Events()) != 0 {
		t.Fatalf("expected rollback to discard the event")
	}
}

func TestMessageJournalPubdataPrefixSum(t *testing.T) {
	j := &MessageJournal{}
	j.Emit(Message{TxNumber: 1, Sender: types.HexToAddress("0x1"), Data: make([]byte, 10)})
	j.Emit(Message{TxNumber: 1, Sender: types.HexToAddress("0x1"), Data: make([]byte, 20)})
	want := 2*messagePubdataOverhead + 30
	if got := j.TotalPubdataBytes(); got != want {
		t.Fatalf("got %d want %d", got, want)
	}
	ckpt := 1
	if got := j.PubdataBytesAt(ckpt); got != messagePubdataOverhead+10 {
		t.Fatalf("got %d want %d", got, messagePubdataOverhead+10)
	}
}

func TestAccountBalanceUpdateAndBounds(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	addr := types.HexToAddress("0x01")
	o.SetAccountProperties(addr, oracle.AccountPropertiesResult{Nonce: 1})
	c := NewAccountCache(config.Default())

	delta := uint256.NewInt(100)
	if err := c.UpdateBalance(o, addr, delta, false, false); err != nil {
		t.Fatalf("credit: %v", err)
	}
	res := newTestResources()
	data, err := c.Read(o, res, addr, RequestBalance)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !data.Balance.Eq(delta) {
		t.Fatalf("got %s want %s", data.Balance.String(), delta.String())
	}

	big := uint256.NewInt(200)
	if err := c.UpdateBalance(o, addr, big, true, false); !errorsIsNumericBounds(err) {
		t.Fatalf("expected numeric bounds error, got %v", err)
	}
}

func errorsIsNumericBounds(err error) bool {
	return err == resources.ErrNumericBounds
}

func TestIOStartFinishGlobalFrame(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	io := New(o, config.Default())
	res := newTestResources()
	addr := types.HexToAddress("0x01")
	slot := types.HexToHash("0x02")

	handle := io.StartGlobalFrame()
	if err := io.WriteStorage(res, addr, slot, types.HexToHash("0x03")); err != nil {
		t.Fatalf("write: %v", err)
	}
	io.EmitEvent(0, addr, nil, []byte("hi"))
	io.FinishGlobalFrame(&handle)

	got, err := io.ReadStorage(res, addr, slot)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != (types.Hash{}) {
		t.Fatalf("expected storage write to be rolled back")
	}
	if len(io.Events.Events()) != 0 {
		t.Fatalf("expected event to be rolled back")
	}
}

func TestIOFinishGlobalFrameNilCommits(t *testing.T) {
	o := oracle.NewHostOracle(oracle.BlockMetadata{}, nil)
	io := New(o, config.Default())
	res := newTestResources()
	addr := types.HexToAddress("0x01")
	slot := types.HexToHash("0x02")

	_ = io.StartGlobalFrame()
	if err := io.WriteStorage(res, addr, slot, types.HexToHash("0x03")); err != nil {
		t.Fatalf("write: %v", err)
	}
	io.FinishGlobalFrame(nil)

	got, err := io.ReadStorage(res, addr, slot)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != types.HexToHash("0x03") {
		t.Fatalf("expected write to survive a nil-handle finish")
	}
}
