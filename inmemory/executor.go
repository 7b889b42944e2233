package inmemory

import (
	"context"
	"fmt"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/transaction"
)

// Apply executes transaction id against the store through tm.
func (s *Store) Apply(ctx context.Context, tm *transaction.Manager, id storekit.UUID) (any, error) {
	return tm.Execute(ctx, id, s.Execute)
}

// Execute is a transaction.Executor. It applies the operations, in order, to a staged
// copy of the items and swaps it in only when every operation succeeded, so a failing
// transaction leaves the store untouched. It returns the number of operations applied.
func (s *Store) Execute(ctx context.Context, operations []transaction.Operation) (any, error) {
	var applied int
	err := s.do(ctx, "apply", func(ctx context.Context) error {
		s.locker.Lock()
		defer s.locker.Unlock()
		if err := s.writableLocked(); err != nil {
			return err
		}
		staged := s.cloneLocked()
		for i, op := range operations {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.applyOperation(staged, op); err != nil {
				return fmt.Errorf("operation %d (%s): %w", i, op.Type, err)
			}
		}
		s.items = staged
		applied = len(operations)
		return nil
	})
	return applied, err
}

func (s *Store) applyOperation(items map[string]any, op transaction.Operation) error {
	switch op.Type {
	case transaction.Save:
		kv, err := keyValueOf(op.Payload)
		if err != nil {
			return err
		}
		if err := s.checkCapacity(items, kv.Key, 1); err != nil {
			return err
		}
		items[kv.Key] = kv.Value
	case transaction.Update:
		kv, err := keyValueOf(op.Payload)
		if err != nil {
			return err
		}
		if _, ok := items[kv.Key]; !ok {
			return notFound(kv.Key)
		}
		items[kv.Key] = kv.Value
	case transaction.Delete:
		k, ok := op.Payload.(string)
		if !ok {
			return invalidPayload(op)
		}
		if _, ok := items[k]; !ok {
			return notFound(k)
		}
		delete(items, k)
	case transaction.BatchSave:
		kvs, ok := op.Payload.([]KeyValue)
		if !ok {
			return invalidPayload(op)
		}
		for _, kv := range kvs {
			if err := s.checkCapacity(items, kv.Key, 1); err != nil {
				return err
			}
			items[kv.Key] = kv.Value
		}
	case transaction.BatchDelete:
		keys, ok := op.Payload.([]string)
		if !ok {
			return invalidPayload(op)
		}
		for _, k := range keys {
			if _, ok := items[k]; !ok {
				return notFound(k)
			}
			delete(items, k)
		}
	default:
		return invalidPayload(op)
	}
	return nil
}

func keyValueOf(payload any) (KeyValue, error) {
	switch p := payload.(type) {
	case KeyValue:
		return p, nil
	case *KeyValue:
		if p != nil {
			return *p, nil
		}
	}
	return KeyValue{}, storekit.NewError(storekit.ValidationFailure, fmt.Errorf("expected KeyValue payload, got %T", payload), nil)
}

func invalidPayload(op transaction.Operation) error {
	return storekit.NewError(storekit.ValidationFailure,
		fmt.Errorf("invalid payload %T for %s operation", op.Payload, op.Type), op.ID)
}
