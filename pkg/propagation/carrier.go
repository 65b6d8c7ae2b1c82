package propagation

import (
	"github.com/segmentio/kafka-go"
)

// MaxBucketSlots is the structural capacity of a BucketCarrier. It models
// the single-bucket header map of the observed process: eight slots, a
// presence count, no overflow. The limit is a property of the foreign data
// structure, not a policy of this package.
const MaxBucketSlots = 8

type bucketSlot struct {
	present bool
	key     string
	value   string
}

// BucketCarrier is a fixed-capacity header multimap mirroring the bucketed
// layout the interception layer writes back into the observed process. Set
// appends into the first free slot and refuses once all slots are taken;
// duplicate keys are allowed, as in the foreign structure.
type BucketCarrier struct {
	count int
	slots [MaxBucketSlots]bucketSlot
}

// NewBucketCarrier returns an empty carrier.
func NewBucketCarrier() *BucketCarrier {
	return &BucketCarrier{}
}

// Get returns the first present slot whose key matches exactly.
func (b *BucketCarrier) Get(key string) (string, bool) {
	for _, s := range b.slots {
		if s.present && s.key == key {
			return s.value, true
		}
	}
	return "", false
}

// Set appends an entry, or returns ErrCarrierFull when every slot is taken.
func (b *BucketCarrier) Set(key, value string) error {
	if b.count >= MaxBucketSlots {
		return ErrCarrierFull
	}
	b.slots[b.count&0x7] = bucketSlot{present: true, key: key, value: value}
	b.count++
	return nil
}

// Len returns the number of occupied slots.
func (b *BucketCarrier) Len() int {
	return b.count
}

// MapCarrier adapts a plain header map. It has no structural capacity, so
// Set never refuses.
type MapCarrier map[string]string

// Get returns the value stored under exactly key.
func (m MapCarrier) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Set stores value under key.
func (m MapCarrier) Set(key, value string) error {
	m[key] = value
	return nil
}

// KafkaCarrier adapts a Kafka message's header slice so producer and
// consumer adapters can propagate the trace through broker messages.
type KafkaCarrier struct {
	Headers *[]kafka.Header
}

// NewKafkaCarrier wraps headers.
func NewKafkaCarrier(headers *[]kafka.Header) KafkaCarrier {
	return KafkaCarrier{Headers: headers}
}

// Get returns the first header whose key matches exactly.
func (k KafkaCarrier) Get(key string) (string, bool) {
	for _, h := range *k.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// Set appends a header.
func (k KafkaCarrier) Set(key, value string) error {
	*k.Headers = append(*k.Headers, kafka.Header{Key: key, Value: []byte(value)})
	return nil
}
