package moray

import "context"

// runPreTriggers runs a bucket's pre-commit hooks in declared order against
// the mutable candidate record. Hooks run sequentially because later hooks
// may depend on earlier mutations.
func runPreTriggers(ctx context.Context, schema *BucketSchema, rec *TriggerRecord) error {
	for i, trigger := range schema.PreTriggers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := trigger(ctx, rec); err != nil {
			return &TriggerError{
				Phase:  TriggerPre,
				Bucket: rec.Bucket,
				Key:    rec.Key,
				Index:  i,
				Err:    err,
			}
		}
	}
	return nil
}

// runPostTriggers runs a bucket's post-commit hooks in declared order. The
// first failure is returned; the write it reports on stays durable.
func runPostTriggers(ctx context.Context, schema *BucketSchema, rec *TriggerRecord) error {
	for i, trigger := range schema.PostTriggers {
		if err := trigger(ctx, rec); err != nil {
			return &TriggerError{
				Phase:  TriggerPost,
				Bucket: rec.Bucket,
				Key:    rec.Key,
				Index:  i,
				Err:    err,
			}
		}
	}
	return nil
}
