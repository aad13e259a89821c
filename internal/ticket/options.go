package ticket

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/netmaker/internal/models"
)

// Option keys stored in a ticket's options map.
const (
	OptPubliclyAccessible = "make_publicly_accessible"
	OptCollectionActTxID  = "collection_act_txid"
	OptOpenAPIGroupID     = "open_api_group_id"
	OptIssuedCopies       = "issued_copies"
	OptRoyalty            = "royalty"
	OptGreen              = "green"

	OptCollectionType = "collection_type"
	OptName           = "name"
	OptMaxEntries     = "max_collection_entries"
	OptItemCopyCount  = "collection_item_copy_count"
	OptContributors   = "authorized_contributors"
	OptMaxNSFWScore   = "max_permitted_open_nsfw_score"
	OptMinSimilarity  = "minimum_similarity_score_to_first_entry_in_collection"
	OptFinalizeDays   = "no_of_days_to_finalize_collection"
)

// Bounds for generated NFT parameters.
const (
	MinIssuedCopies = 1
	MaxIssuedCopies = 20
	MinRoyalty      = 0.1
	MaxRoyalty      = 10.0
)

// ValidateOptions checks the kind-specific fields of a ticket.
func ValidateOptions(kind models.Kind, opts map[string]interface{}) error {
	var err error
	switch kind {
	case models.KindCascade:
		err = requireBool(opts, OptPubliclyAccessible)
	case models.KindSense:
		err = firstErr(
			optionalString(opts, OptCollectionActTxID),
			optionalString(opts, OptOpenAPIGroupID),
		)
	case models.KindNFT:
		err = firstErr(
			numberIn(opts, OptIssuedCopies, MinIssuedCopies, MaxIssuedCopies),
			numberIn(opts, OptRoyalty, MinRoyalty, MaxRoyalty),
			requireBool(opts, OptGreen),
			requireBool(opts, OptPubliclyAccessible),
			optionalString(opts, OptCollectionActTxID),
			optionalString(opts, OptOpenAPIGroupID),
		)
	case models.KindCollection:
		err = firstErr(
			oneOf(opts, OptCollectionType, "sense", "nft"),
			requireString(opts, OptName),
			numberIn(opts, OptMaxEntries, 1, 1e9),
		)
	default:
		return fmt.Errorf("ticket: unknown kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("ticket: %s options: %w", kind, err)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func requireBool(opts map[string]interface{}, key string) error {
	if _, ok := opts[key].(bool); !ok {
		return fmt.Errorf("%s must be a boolean", key)
	}
	return nil
}

func requireString(opts map[string]interface{}, key string) error {
	if s, ok := opts[key].(string); !ok || s == "" {
		return fmt.Errorf("%s is required", key)
	}
	return nil
}

func optionalString(opts map[string]interface{}, key string) error {
	v, present := opts[key]
	if !present {
		return nil
	}
	if _, ok := v.(string); !ok {
		return fmt.Errorf("%s must be a string", key)
	}
	return nil
}

func oneOf(opts map[string]interface{}, key string, allowed ...string) error {
	s, _ := opts[key].(string)
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v", key, allowed)
}

func numberIn(opts map[string]interface{}, key string, lo, hi float64) error {
	var f float64
	switch v := opts[key].(type) {
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return fmt.Errorf("%s must be a number", key)
		}
		f = n
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	default:
		return fmt.Errorf("%s must be a number", key)
	}
	if f < lo || f > hi {
		return fmt.Errorf("%s %v outside [%v, %v]", key, f, lo, hi)
	}
	return nil
}
