package normalize

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dark30-ventures/intent-cli/internal/model"
)

// TypeMap buckets free-text permit types into the fixed class set.
// Unrecognized types fall through to unclassified, logged but never dropped.
type TypeMap struct {
	classes []classEntry
}

type classEntry struct {
	class   model.PermitClass
	phrases []string
}

// typeMapFile is the on-disk shape of the mapping table.
type typeMapFile struct {
	Classes map[string][]string `yaml:"classes"`
}

// classOrder fixes matching precedence: a "crane pad foundation" permit is
// equipment-intensive, not structural.
var classOrder = []model.PermitClass{
	model.ClassEquipmentIntensive,
	model.ClassStructural,
	model.ClassRoutine,
}

// LoadTypeMap reads the permit-type mapping table from a YAML file.
func LoadTypeMap(path string) (*TypeMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read type map %s", path)
	}
	var f typeMapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "normalize: parse type map %s", path)
	}
	return NewTypeMap(f.Classes), nil
}

// NewTypeMap builds a TypeMap from class -> phrase lists.
func NewTypeMap(classes map[string][]string) *TypeMap {
	tm := &TypeMap{}
	for _, class := range classOrder {
		phrases := classes[string(class)]
		lowered := make([]string, 0, len(phrases))
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				lowered = append(lowered, p)
			}
		}
		tm.classes = append(tm.classes, classEntry{class: class, phrases: lowered})
	}
	return tm
}

// Classify maps a free-text permit type (and, as a fallback, the work
// description) to a class. First matching class in precedence order wins.
func (tm *TypeMap) Classify(permitType, description string) model.PermitClass {
	haystack := strings.ToLower(permitType + " " + description)
	for _, entry := range tm.classes {
		for _, phrase := range entry.phrases {
			if strings.Contains(haystack, phrase) {
				return entry.class
			}
		}
	}
	if strings.TrimSpace(permitType) != "" {
		zap.L().Debug("normalize: unclassified permit type", zap.String("type", permitType))
	}
	return model.ClassUnclassified
}
