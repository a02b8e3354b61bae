package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mlaakso/orka/pkg/api"
)

// RedisStore implements InstanceStore, HistoryStore and EventStore on top of
// Redis. It uses a simple key structure:
//
//	<prefix>inst:<id>              => gob-encoded redisInstancePayload
//	<prefix>idx:all                => SET of all instance IDs
//	<prefix>idx:wf:<workflow>      => SET of instance IDs per workflow
//	<prefix>idx:status:<status>    => SET of instance IDs per status
//	<prefix>hist:<id>              => LIST of gob-encoded history events
//	<prefix>waiters:<id>           => SET of pending event names
//	<prefix>buf:<id>:<event>       => LIST of gob-encoded buffered payloads
//
// The indexes are best-effort; they are updated on every Create/Update and
// ListInstances filters on the decoded payloads anyway.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisStore)(nil)

var _ HistoryStore = (*RedisStore)(nil)

var _ EventStore = (*RedisStore)(nil)

type redisInstancePayload struct {
	ID          string
	Workflow    string
	Status      string
	Input       []byte
	Output      []byte
	Error       string
	CreatedAt   int64
	CompletedAt int64
}

type redisHistoryPayload struct {
	Sequence  int64
	Kind      string
	At        int64
	TaskID    int
	Activity  string
	EventName string
	Payload   []byte
	Error     string
}

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "orka:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "orka:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Bundle returns a Persistence backed entirely by this store.
func (s *RedisStore) Bundle() Persistence {
	return Persistence{Instances: s, History: s, Events: s}
}

func (s *RedisStore) keyInstance(id string) string { return s.prefix + "inst:" + id }
func (s *RedisStore) keyAll() string               { return s.prefix + "idx:all" }
func (s *RedisStore) keyWorkflow(wf string) string { return s.prefix + "idx:wf:" + wf }
func (s *RedisStore) keyStatus(st api.Status) string {
	return s.prefix + "idx:status:" + string(st)
}
func (s *RedisStore) keyHistory(id string) string { return s.prefix + "hist:" + id }
func (s *RedisStore) keyWaiters(id string) string { return s.prefix + "waiters:" + id }
func (s *RedisStore) keyBuffer(id, event string) string {
	return s.prefix + "buf:" + id + ":" + event
}

func encodeRedisInstance(inst *api.WorkflowInstance) ([]byte, error) {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return nil, err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return nil, err
	}

	var completedAt int64
	if !inst.CompletedAt.IsZero() {
		completedAt = inst.CompletedAt.UnixNano()
	}

	payload := redisInstancePayload{
		ID:          inst.ID,
		Workflow:    inst.Workflow,
		Status:      string(inst.Status),
		Input:       input,
		Output:      output,
		Error:       errString(inst.Err),
		CreatedAt:   inst.CreatedAt.UnixNano(),
		CompletedAt: completedAt,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisInstance(data []byte) (*api.WorkflowInstance, error) {
	if len(data) == 0 {
		return nil, ErrInstanceNotFound
	}
	var payload redisInstancePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	input, err := DecodeValue(payload.Input)
	if err != nil {
		return nil, err
	}
	output, err := DecodeValue(payload.Output)
	if err != nil {
		return nil, err
	}

	inst := &api.WorkflowInstance{
		ID:        payload.ID,
		Workflow:  payload.Workflow,
		Status:    api.Status(payload.Status),
		Input:     input,
		Output:    output,
		CreatedAt: time.Unix(0, payload.CreatedAt),
	}
	if payload.CompletedAt != 0 {
		inst.CompletedAt = time.Unix(0, payload.CompletedAt)
	}
	if payload.Error != "" {
		inst.Err = errors.New(payload.Error)
	}
	return inst, nil
}

func (s *RedisStore) CreateInstance(inst *api.WorkflowInstance) error {
	ctx := context.Background()

	data, err := encodeRedisInstance(inst)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.keyInstance(inst.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateInstance
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyWorkflow(inst.Workflow), inst.ID)
	pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UpdateInstance(inst *api.WorkflowInstance) error {
	ctx := context.Background()

	prev, err := s.GetInstance(inst.ID)
	if err != nil {
		return err
	}

	data, err := encodeRedisInstance(inst)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.keyInstance(inst.ID), data, 0)
	if prev.Status != inst.Status {
		pipe.SRem(ctx, s.keyStatus(prev.Status), inst.ID)
		pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeRedisInstance(data)
}

func (s *RedisStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	ctx := context.Background()

	key := s.keyAll()
	switch {
	case filter.Workflow != "" && filter.Status != "":
		key = s.keyWorkflow(filter.Workflow)
	case filter.Workflow != "":
		key = s.keyWorkflow(filter.Workflow)
	case filter.Status != "":
		key = s.keyStatus(filter.Status)
	}

	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var result []*api.WorkflowInstance
	for _, id := range ids {
		inst, err := s.GetInstance(id)
		if err != nil {
			if errors.Is(err, ErrInstanceNotFound) {
				// Stale index entry.
				continue
			}
			return nil, err
		}
		if filter.Workflow != "" && inst.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		result = append(result, inst)
	}
	return result, nil
}

func (s *RedisStore) AppendEvents(ctx context.Context, instanceID string, events []api.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}

	encoded := make([]any, 0, len(events))
	for _, ev := range events {
		payload, err := EncodeValue(ev.Payload)
		if err != nil {
			return err
		}
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		rec := redisHistoryPayload{
			Sequence:  ev.Sequence,
			Kind:      string(ev.Kind),
			At:        at.UnixNano(),
			TaskID:    ev.TaskID,
			Activity:  ev.Activity,
			EventName: ev.EventName,
			Payload:   payload,
			Error:     ev.Error,
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
			return err
		}
		encoded = append(encoded, buf.Bytes())
	}

	return s.client.RPush(ctx, s.keyHistory(instanceID), encoded...).Err()
}

func (s *RedisStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	items, err := s.client.LRange(ctx, s.keyHistory(instanceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []api.HistoryEvent
	for _, item := range items {
		var rec redisHistoryPayload
		if err := gob.NewDecoder(bytes.NewReader([]byte(item))).Decode(&rec); err != nil {
			return nil, err
		}
		val, err := DecodeValue(rec.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, api.HistoryEvent{
			Sequence:  rec.Sequence,
			Kind:      api.EventKind(rec.Kind),
			At:        time.Unix(0, rec.At),
			TaskID:    rec.TaskID,
			Activity:  rec.Activity,
			EventName: rec.EventName,
			Payload:   val,
			Error:     rec.Error,
		})
	}
	return out, nil
}

func (s *RedisStore) RegisterWaiter(ctx context.Context, instanceID, eventName string) error {
	return s.client.SAdd(ctx, s.keyWaiters(instanceID), eventName).Err()
}

func (s *RedisStore) RemoveWaiter(ctx context.Context, instanceID, eventName string) (bool, error) {
	removed, err := s.client.SRem(ctx, s.keyWaiters(instanceID), eventName).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *RedisStore) BufferEvent(ctx context.Context, instanceID, eventName string, payload any) error {
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}
	// Empty payloads still need a list entry; gob never produces an empty
	// encoding for non-nil values, so "" marks a nil payload.
	return s.client.RPush(ctx, s.keyBuffer(instanceID, eventName), data).Err()
}

func (s *RedisStore) TakeBufferedEvent(ctx context.Context, instanceID, eventName string) (any, bool, error) {
	data, err := s.client.LPop(ctx, s.keyBuffer(instanceID, eventName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	val, err := DecodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
