package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-gateway/pkg/domain"
)

// ErrInvalidDefinition is returned for API definitions that cannot be deployed.
var ErrInvalidDefinition = errors.New("invalid api definition")

// Definitions is an immutable set of API definitions read from disk.
type Definitions struct {
	Generation    int64
	LoadedAt      time.Time
	Checksum      string
	Apis          []domain.Api
	PlatformFlows []domain.Flow
	// Checksums holds the checksum of each API definition by API ID.
	Checksums map[string]string
}

// definitionFile is the on-disk document. A file may declare any number of
// APIs and platform flows.
type definitionFile struct {
	Apis          []domain.Api  `yaml:"apis"`
	PlatformFlows []domain.Flow `yaml:"platformFlows"`
}

// LoadDefinitions reads every .yaml and .yml file of dir in name order.
func LoadDefinitions(dir string) (Definitions, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return Definitions{}, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	sum := sha256.New()
	defs := Definitions{LoadedAt: time.Now(), Checksums: make(map[string]string)}
	seen := make(map[string]string)
	for _, file := range files {
		//nolint:gosec // Definition paths are controlled by admin/operator
		data, err := os.ReadFile(file)
		if err != nil {
			return Definitions{}, fmt.Errorf("failed to read definition file %s: %w", file, err)
		}
		sum.Write([]byte(filepath.Base(file)))
		sum.Write(data)

		var doc definitionFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Definitions{}, fmt.Errorf("failed to parse definition file %s: %w", file, err)
		}
		for i := range doc.Apis {
			api := doc.Apis[i]
			if err := ValidateApi(&api); err != nil {
				return Definitions{}, fmt.Errorf("%s: %w", file, err)
			}
			if other, dup := seen[api.ID]; dup {
				return Definitions{}, fmt.Errorf("%w: api %s declared in %s and %s", ErrInvalidDefinition, api.ID, other, file)
			}
			seen[api.ID] = file
			checksum, err := ApiChecksum(&api)
			if err != nil {
				return Definitions{}, err
			}
			defs.Checksums[api.ID] = checksum
			defs.Apis = append(defs.Apis, api)
		}
		defs.PlatformFlows = append(defs.PlatformFlows, doc.PlatformFlows...)
	}
	defs.Checksum = hex.EncodeToString(sum.Sum(nil))
	return defs, nil
}

// ApiChecksum fingerprints a definition so unchanged APIs are not redeployed.
func ApiChecksum(api *domain.Api) (string, error) {
	data, err := yaml.Marshal(api)
	if err != nil {
		return "", fmt.Errorf("api %s: %w", api.ID, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateApi checks what deployment relies on. A missing type defaults to
// proxy.
func ValidateApi(api *domain.Api) error {
	if strings.TrimSpace(api.ID) == "" {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, NewConfigMissingError("id"))
	}
	switch api.Type {
	case "":
		api.Type = domain.ApiTypeProxy
	case domain.ApiTypeProxy, domain.ApiTypeMessage:
	default:
		return fmt.Errorf("%w: api %s: unsupported type %q", ErrInvalidDefinition, api.ID, api.Type)
	}
	if len(api.Listeners) == 0 {
		return fmt.Errorf("%w: api %s: no listener", ErrInvalidDefinition, api.ID)
	}
	for i, l := range api.Listeners {
		if l.Type == domain.ListenerHTTP && len(l.Paths) == 0 {
			return fmt.Errorf("%w: api %s: listener %d has no path", ErrInvalidDefinition, api.ID, i)
		}
		if len(l.Entrypoints) == 0 {
			return fmt.Errorf("%w: api %s: listener %d has no entrypoint", ErrInvalidDefinition, api.ID, i)
		}
	}
	for _, g := range api.EndpointGroups {
		if len(g.Endpoints) == 0 {
			return fmt.Errorf("%w: api %s: endpoint group %q is empty", ErrInvalidDefinition, api.ID, g.Name)
		}
	}
	return nil
}
