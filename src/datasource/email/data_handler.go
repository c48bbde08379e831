package email

import (
	"context"
	"fmt"

	"SpeedRecords/src/processor"
)

// PipelineCheck returns a CheckFunc that runs the pipeline on the
// attachment in memory and rejects files the pipeline cannot read, or that
// leave no cleaned rows.
func PipelineCheck(ctx context.Context, opts processor.Options) CheckFunc {
	opts.Observer = nil
	return func(att *Attachment) error {
		res, err := processor.LoadBytes(ctx, att.Filename, att.Content, opts)
		if err != nil {
			return err
		}
		if res.Diagnostics.RowsRead > 0 && res.Diagnostics.RowsCleaned == 0 {
			return fmt.Errorf("all %d rows dropped: %s", res.Diagnostics.RowsRead, res.Diagnostics.String())
		}
		return nil
	}
}
