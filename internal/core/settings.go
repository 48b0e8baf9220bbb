package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Setting names as stored in the settings store.
const (
	SettingMoodleIDField       = "moodle_idfield"
	SettingFieldIDField        = "field_idfield"
	SettingFieldCohort         = "field_cohort"
	SettingFieldMainGroup      = "field_maingroup"
	SettingFieldOtherGroups    = "field_othergroups"
	SettingGroupPattern        = "group_transform_pattern"
	SettingGroupReplacement    = "group_transform_replacement"
	SettingSyncNewUsersEnabled = "sync_new_users_enabled"
)

// Default values applied when a setting is unset or empty.
const (
	DefaultFieldIDField     = "e-mail"
	DefaultFieldCohort      = "Promotions"
	DefaultFieldMainGroup   = "TD"
	DefaultFieldOtherGroups = "Regroupements"
	DefaultGroupPattern     = `/(A[0-9]+)\s*gr([0-9]\.[0-9])/i`
	DefaultGroupReplacement = `\1\3Gr\2`
)

// FieldNames maps the logical import fields to CSV column headers.
type FieldNames struct {
	IDField     string `json:"idfield" yaml:"idfield"`
	Cohort      string `json:"cohort" yaml:"cohort"`
	MainGroup   string `json:"maingroup" yaml:"maingroup"`
	OtherGroups string `json:"othergroups" yaml:"othergroups"`
}

// Override returns f with every non-empty field of o applied.
func (f FieldNames) Override(o FieldNames) FieldNames {
	if o.IDField != "" {
		f.IDField = o.IDField
	}
	if o.Cohort != "" {
		f.Cohort = o.Cohort
	}
	if o.MainGroup != "" {
		f.MainGroup = o.MainGroup
	}
	if o.OtherGroups != "" {
		f.OtherGroups = o.OtherGroups
	}
	return f
}

// Settings is the typed view of the plugin settings.
type Settings struct {
	MoodleIDField       IDField    `json:"moodle_idfield"`
	Fields              FieldNames `json:"fields"`
	GroupPattern        string     `json:"group_transform_pattern"`
	GroupReplacement    string     `json:"group_transform_replacement"`
	SyncNewUsersEnabled bool       `json:"sync_new_users_enabled"`
}

// DefaultSettings returns the settings used on a fresh install.
func DefaultSettings() Settings {
	return Settings{
		MoodleIDField: IDFieldEmail,
		Fields: FieldNames{
			IDField:     DefaultFieldIDField,
			Cohort:      DefaultFieldCohort,
			MainGroup:   DefaultFieldMainGroup,
			OtherGroups: DefaultFieldOtherGroups,
		},
		GroupPattern:     DefaultGroupPattern,
		GroupReplacement: DefaultGroupReplacement,
	}
}

// SettingsFromMap builds Settings from raw values, falling back to defaults.
// The group pattern and replacement keep an explicitly stored empty value so
// the transform can be switched off.
func SettingsFromMap(values map[string]string) (Settings, error) {
	s := DefaultSettings()

	if v := strings.TrimSpace(values[SettingMoodleIDField]); v != "" {
		f := IDField(strings.ToLower(v))
		if !f.Valid() {
			return s, fmt.Errorf("%s: unsupported identity field %q", SettingMoodleIDField, v)
		}
		s.MoodleIDField = f
	}

	s.Fields = s.Fields.Override(FieldNames{
		IDField:     values[SettingFieldIDField],
		Cohort:      values[SettingFieldCohort],
		MainGroup:   values[SettingFieldMainGroup],
		OtherGroups: values[SettingFieldOtherGroups],
	})

	if v, ok := values[SettingGroupPattern]; ok {
		s.GroupPattern = v
	}
	if v, ok := values[SettingGroupReplacement]; ok {
		s.GroupReplacement = v
	}

	if v := strings.TrimSpace(values[SettingSyncNewUsersEnabled]); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", SettingSyncNewUsersEnabled, err)
		}
		s.SyncNewUsersEnabled = b
	}

	if s.GroupPattern != "" {
		if _, err := CompileGroupTransform(s.GroupPattern, s.GroupReplacement); err != nil {
			return s, err
		}
	}

	return s, nil
}

// LoadSettings reads the settings store and applies defaults.
func LoadSettings(ctx context.Context, store SettingsStore) (Settings, error) {
	values, err := store.GetSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return SettingsFromMap(values)
}

// KnownSetting reports whether name is a setting the sync understands.
func KnownSetting(name string) bool {
	switch name {
	case SettingMoodleIDField, SettingFieldIDField, SettingFieldCohort, SettingFieldMainGroup,
		SettingFieldOtherGroups, SettingGroupPattern, SettingGroupReplacement, SettingSyncNewUsersEnabled:
		return true
	}
	return false
}
