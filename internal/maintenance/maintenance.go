// Package maintenance loads and validates maintenance descriptions: which
// devices to visit, in what order, and which commands to play on each.
package maintenance

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/agent462/netmaint/internal/pathutil"
)

// ErrConfiguration marks a maintenance or run setting that cannot be
// executed as given.
var ErrConfiguration = errors.New("configuration error")

// Action is the work for one device.
type Action struct {
	Hostname string   `json:"swname" yaml:"hostname" toml:"hostname" xml:"name,attr" validate:"required,devicename"`
	Commands []string `json:"commands" yaml:"commands" toml:"commands" xml:"command"`
	Pause    bool     `json:"pause" yaml:"pause" toml:"pause" xml:"pause,attr"`
}

// Maintenance is an ordered list of actions. MPCompat declares that the
// actions are independent and may run in parallel.
type Maintenance struct {
	XMLName  xml.Name `json:"-" yaml:"-" toml:"-" xml:"maintenance"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty" xml:"name,attr,omitempty"`
	MPCompat bool     `json:"mp_compat" yaml:"mp_compat" toml:"mp_compat" xml:"mp_compat,attr"`
	Actions  []Action `json:"actions" yaml:"actions" toml:"actions" xml:"switch" validate:"dive"`
}

// Supported file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatXML  = "xml"
	FormatJSON = "json"
)

var validate = validator.New()

var deviceName = regexp.MustCompile(`^[A-Za-z0-9._:\-\[\]]+$`)

func init() {
	_ = validate.RegisterValidation("devicename", func(fl validator.FieldLevel) bool {
		return deviceName.MatchString(fl.Field().String())
	})
}

// FormatOf picks a format from the file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".xml":
		return FormatXML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown maintenance format %q", ErrConfiguration, filepath.Ext(path))
}

// Load reads, parses and validates the maintenance at path. A missing
// name defaults to the file's base name.
func Load(path string) (*Maintenance, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(pathutil.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading maintenance: %w", err)
	}
	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = pathutil.BaseName(path)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes data in the given format without validating it.
func Parse(data []byte, format string) (*Maintenance, error) {
	m := &Maintenance{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, m)
	case FormatTOML:
		_, err = toml.NewDecoder(bytes.NewReader(data)).Decode(m)
	case FormatXML:
		err = xml.Unmarshal(data, m)
	case FormatJSON:
		err = json.Unmarshal(data, m)
	default:
		return nil, fmt.Errorf("%w: unknown maintenance format %q", ErrConfiguration, format)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s maintenance: %w", format, err)
	}
	return m, nil
}

// Validate checks field constraints and flag consistency. Every failure
// wraps ErrConfiguration.
func (m *Maintenance) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, describe(err))
	}
	if len(m.Actions) == 0 {
		return fmt.Errorf("%w: maintenance has no actions", ErrConfiguration)
	}
	if !m.MPCompat {
		return nil
	}
	for _, a := range m.Actions {
		if a.Pause {
			return fmt.Errorf("%w: %s pauses at the end but the maintenance is mp_compat", ErrConfiguration, a.Hostname)
		}
		for _, c := range a.Commands {
			if strings.TrimSpace(c) == "--pause" {
				return fmt.Errorf("%w: %s has a --pause directive but the maintenance is mp_compat", ErrConfiguration, a.Hostname)
			}
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			msgs = append(msgs, fe.Namespace()+" is required")
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s %q is not a valid device name", fe.Namespace(), fe.Value()))
	}
	return strings.Join(msgs, "; ")
}

// Hosts lists the distinct hostnames in action order.
func (m *Maintenance) Hosts() []string {
	seen := make(map[string]bool, len(m.Actions))
	var hosts []string
	for _, a := range m.Actions {
		if seen[a.Hostname] {
			continue
		}
		seen[a.Hostname] = true
		hosts = append(hosts, a.Hostname)
	}
	return hosts
}

// Dump writes the parsed maintenance as indented JSON.
func (m *Maintenance) Dump(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("dumping maintenance: %w", err)
	}
	return nil
}
