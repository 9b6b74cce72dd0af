package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"sjsage522/noticewatcher/internal/adapter"
	"sjsage522/noticewatcher/internal/state"
	werrors "sjsage522/noticewatcher/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Sources is the parsed sources file
type Sources struct {
	Defaults Defaults `yaml:"defaults"`
	Sources  []Source `yaml:"sources"`
}

// Defaults apply to every source that does not set the field itself
type Defaults struct {
	NotifyOnFirstSeen *bool           `yaml:"notify_on_first_seen"`
	SkipPinned        *bool           `yaml:"skip_pinned"`
	RequireRows       *bool           `yaml:"require_rows"`
	ExcludeKeywords   []string        `yaml:"exclude_keywords"`
	Fingerprint       state.Retention `yaml:"fingerprint"`
}

// Source is one monitored page
type Source struct {
	ID   string       `yaml:"id"`
	Name string       `yaml:"name"`
	Kind adapter.Kind `yaml:"kind"`
	URL  string       `yaml:"url"`
	// StateKey is the key of the source in the fingerprint store. It
	// defaults to ID; set it to keep using entries written under another name.
	StateKey string `yaml:"state_key"`
	Disabled bool   `yaml:"disabled"`

	Selectors       adapter.Selectors    `yaml:"selectors"`
	Identity        adapter.IdentityRule `yaml:"identity"`
	ExcludeKeywords []string             `yaml:"exclude_keywords"`

	SkipPinned        *bool           `yaml:"skip_pinned"`
	RequireRows       *bool           `yaml:"require_rows"`
	NotifyOnFirstSeen *bool           `yaml:"notify_on_first_seen"`
	Fingerprint       state.Retention `yaml:"fingerprint"`

	Login                *adapter.LoginSteps  `yaml:"login"`
	PopupClose           string               `yaml:"popup_close"`
	RenderTimeoutSeconds int                  `yaml:"render_timeout_seconds"`
	Notion               *adapter.NotionQuery `yaml:"notion"`
}

// LoadSources reads and parses a sources file, applying its defaults
func LoadSources(path string) (*Sources, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, werrors.NewConfiguration(fmt.Sprintf("open sources file %s", path), err)
	}
	defer f.Close()

	return ParseSources(f)
}

// ParseSources parses a sources document
func ParseSources(r io.Reader) (*Sources, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, werrors.NewConfiguration("read sources", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Sources
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, werrors.NewConfiguration("parse sources", err)
	}

	s.applyDefaults()
	return &s, nil
}

func (s *Sources) applyDefaults() {
	d := s.Defaults
	if d.Fingerprint.Strategy == "" {
		d.Fingerprint.Strategy = state.StrategyHistory
	}
	if d.RequireRows == nil {
		d.RequireRows = boolPtr(true)
	}

	for i := range s.Sources {
		src := &s.Sources[i]
		if src.Kind == "" {
			src.Kind = adapter.KindBoard
		}
		if src.Name == "" {
			src.Name = src.ID
		}
		if src.StateKey == "" {
			src.StateKey = src.ID
		}
		if src.SkipPinned == nil {
			src.SkipPinned = d.SkipPinned
		}
		if src.RequireRows == nil {
			src.RequireRows = d.RequireRows
		}
		if src.NotifyOnFirstSeen == nil {
			src.NotifyOnFirstSeen = d.NotifyOnFirstSeen
		}
		if src.Fingerprint.Strategy == "" {
			src.Fingerprint.Strategy = d.Fingerprint.Strategy
			if src.Fingerprint.HistorySize == 0 {
				src.Fingerprint.HistorySize = d.Fingerprint.HistorySize
			}
		}
		src.ExcludeKeywords = append(append([]string(nil), d.ExcludeKeywords...), src.ExcludeKeywords...)
	}
}

// Enabled returns the sources that are not disabled, in file order
func (s *Sources) Enabled() []Source {
	out := make([]Source, 0, len(s.Sources))
	for _, src := range s.Sources {
		if !src.Disabled {
			out = append(out, src)
		}
	}
	return out
}

// ResolveSecrets copies credentials referenced by environment variable name
// into the sources. lookup is normally os.LookupEnv.
func (s *Sources) ResolveSecrets(lookup func(string) (string, bool), cfg *Config) error {
	var missing []string
	get := func(id, name string) string {
		if name == "" {
			return ""
		}
		v, ok := lookup(name)
		if !ok || v == "" {
			missing = append(missing, fmt.Sprintf("%s: %s", id, name))
		}
		return v
	}

	for i := range s.Sources {
		src := &s.Sources[i]
		if src.Disabled {
			continue
		}
		if src.Login != nil {
			src.Login.Username = get(src.ID, src.Login.UsernameEnv)
			src.Login.Password = get(src.ID, src.Login.PasswordEnv)
		}
		if src.Kind == adapter.KindNotion {
			if src.Notion == nil {
				src.Notion = &adapter.NotionQuery{}
			}
			if src.Notion.TokenEnv != "" {
				src.Notion.Token = get(src.ID, src.Notion.TokenEnv)
			} else if cfg != nil {
				src.Notion.Token = cfg.NotionAPIKey
			}
			if src.Notion.DatabaseID == "" && cfg != nil {
				src.Notion.DatabaseID = cfg.NotionDBID
			}
		}
	}

	if len(missing) > 0 {
		return werrors.NewConfiguration("missing credentials: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Validate checks every enabled source
func (s *Sources) Validate() error {
	var problems []string
	seen := make(map[string]bool)
	seenKeys := make(map[string]string)

	for i, src := range s.Sources {
		label := src.ID
		if label == "" {
			label = fmt.Sprintf("sources[%d]", i)
			problems = append(problems, label+": id is required")
		} else if seen[src.ID] {
			problems = append(problems, label+": duplicate id")
		}
		seen[src.ID] = true

		if src.Disabled {
			continue
		}
		if other, ok := seenKeys[src.StateKey]; ok && src.StateKey != "" {
			problems = append(problems, fmt.Sprintf("%s: state_key %q already used by %s", label, src.StateKey, other))
		}
		seenKeys[src.StateKey] = label

		switch src.Kind {
		case adapter.KindBoard, adapter.KindBrowser:
			if src.URL == "" {
				problems = append(problems, label+": url is required")
			}
			if src.Selectors.Row == "" || src.Selectors.Title == "" {
				problems = append(problems, label+": selectors.row and selectors.title are required")
			}
			if src.Identity.Pattern != "" {
				re, err := regexp.Compile(src.Identity.Pattern)
				if err != nil {
					problems = append(problems, fmt.Sprintf("%s: identity.pattern: %v", label, err))
				} else if re.NumSubexp() < 1 {
					problems = append(problems, label+": identity.pattern needs a capture group")
				}
			}
			if src.Login != nil && src.Kind != adapter.KindBrowser {
				problems = append(problems, label+": login requires kind browser")
			}
			if src.Login != nil && (src.Login.UsernameSelector == "" || src.Login.PasswordSelector == "" || src.Login.SubmitSelector == "") {
				problems = append(problems, label+": login needs username, password and submit selectors")
			}
		case adapter.KindNotion:
			if src.Notion == nil || src.Notion.DatabaseID == "" {
				problems = append(problems, label+": notion.database_id is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown kind %q", label, src.Kind))
		}

		switch src.Fingerprint.Strategy {
		case state.StrategySingle, state.StrategyHistory:
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown fingerprint strategy %q", label, src.Fingerprint.Strategy))
		}
		if src.Fingerprint.HistorySize < 0 {
			problems = append(problems, label+": fingerprint.history_size must be positive")
		}
	}

	if len(problems) > 0 {
		return werrors.NewConfiguration(strings.Join(problems, "; "), nil)
	}
	return nil
}

// FirstSeenNotify resolves notify_on_first_seen against the global default
func (src Source) FirstSeenNotify(global bool) bool {
	if src.NotifyOnFirstSeen != nil {
		return *src.NotifyOnFirstSeen
	}
	return global
}

// AdapterSpec converts the source into the adapter factory input
func (src Source) AdapterSpec(blockTime time.Duration) adapter.Spec {
	return adapter.Spec{
		ID:                 src.ID,
		Kind:               src.Kind,
		URL:                src.URL,
		Selectors:          src.Selectors,
		Identity:           src.Identity,
		RequireRows:        src.RequireRows == nil || *src.RequireRows,
		BlockTime:          blockTime,
		Login:              src.Login,
		PopupCloseSelector: src.PopupClose,
		RenderTimeout:      time.Duration(src.RenderTimeoutSeconds) * time.Second,
		Notion:             src.Notion,
	}
}

func boolPtr(b bool) *bool { return &b }
