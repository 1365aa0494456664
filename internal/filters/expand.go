// internal/filters/expand.go
package filters

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/solatis/propfilter/internal/types"
)

/*
 * Expansion of loosely typed filter dictionaries.
 *
 * Teams store their test-account exclusion filters as untyped JSON objects.
 * Expand decodes them into property leaves:
 *
 *   - numeric strings and floats are accepted for group_type_index
 *   - a missing operator means exact (in for cohorts)
 *   - a missing type tag is logged and treated as an event property
 *   - unknown type tags and undecodable entries are collected and returned
 *     together, so one bad entry does not hide the others
 */

// Expander decodes raw filter dictionaries into property leaves.
type Expander struct {
	log logrus.FieldLogger
}

// NewExpander creates an expander that reports defaulted entries to log.
func NewExpander(log logrus.FieldLogger) *Expander {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Expander{log: log}
}

// Expand decodes raw into leaves. team may be nil; it only adds log context.
// On error no leaves are returned.
func (e *Expander) Expand(raw []map[string]any, team *types.Team) ([]types.PropertyLeaf, error) {
	log := e.log
	if team != nil {
		log = log.WithField("team_id", team.ID)
	}

	var errs *multierror.Error
	leaves := make([]types.PropertyLeaf, 0, len(raw))
	for i, entry := range raw {
		leaf, err := decodeLeaf(entry)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("filter %d: %w", i, err))
			continue
		}

		if leaf.Type == "" {
			log.WithFields(logrus.Fields{"index": i, "key": leaf.Key}).Warn("Filter has no type, treating as event property")
			leaf.Type = types.PropertyTypeEvent
		}
		if _, err := Classify(&leaf); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("filter %d: %w", i, err))
			continue
		}
		if leaf.Operator == "" {
			leaf.Operator = types.OpExact
			if IsCohortProperty(&leaf) {
				leaf.Operator = types.OpIn
			}
		}
		leaves = append(leaves, leaf)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return leaves, nil
}

func decodeLeaf(entry map[string]any) (types.PropertyLeaf, error) {
	var leaf types.PropertyLeaf
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &leaf,
		TagName:          "mapstructure",
	})
	if err != nil {
		return leaf, err
	}
	if err := decoder.Decode(entry); err != nil {
		return leaf, err
	}
	return leaf, nil
}
