package content

import (
	"fmt"

	"arbor/internal/errors"
)

// copyMulti is the shared CopyMulti implementation.
func copyMulti(dst Store, source Source, keys []Key, permitPartialFailure bool) (int, []Key, error) {
	if source.Kind() != dst.Kind() {
		return 0, nil, errors.ValidationError(
			fmt.Sprintf("cannot copy %s records into a %s store", source.Kind(), dst.Kind()), nil)
	}
	if len(keys) == 0 {
		return 0, nil, nil
	}

	records, missing, err := source.GetRecords(keys)
	if err != nil {
		return 0, nil, fmt.Errorf("reading %s records: %w", source.Kind(), err)
	}
	if len(missing) > 0 && !permitPartialFailure {
		return 0, missing, errors.NotFound(fmt.Sprintf("%d %s keys missing from source, first %s",
			len(missing), source.Kind(), missing[0]))
	}

	copied := 0
	for _, rec := range records {
		if rec.Sha1 != "" && Sha1(rec.Content) != rec.Sha1 {
			return copied, missing, fmt.Errorf("record %s failed sha1 check", rec.Key)
		}
		if _, err := dst.Put(rec.Key, rec.Parents, rec.Content); err != nil {
			return copied, missing, fmt.Errorf("copying %s: %w", rec.Key, err)
		}
		copied++
	}
	return copied, missing, nil
}
