package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// SettingsFile is the YAML layout of a plugin settings seed:
//
//	moodle_idfield: email
//	fields:
//	  idfield: E-mail
//	  cohort: Promotions
//	  maingroup: TD
//	  othergroups: Regroupements
//	group_transform:
//	  pattern: '/(A[0-9]+)\s*gr([0-9]\.[0-9])/i'
//	  replacement: '\1\3Gr\2'
//	sync_new_users_enabled: true
//
// Omitted keys are left alone. An explicit empty pattern disables the
// group-name transform.
type SettingsFile struct {
	MoodleIDField       string          `yaml:"moodle_idfield"`
	Fields              core.FieldNames `yaml:"fields"`
	GroupTransform      *GroupTransform `yaml:"group_transform"`
	SyncNewUsersEnabled *bool           `yaml:"sync_new_users_enabled"`
}

// GroupTransform is the regex rewrite applied to group names.
type GroupTransform struct {
	Pattern     *string `yaml:"pattern"`
	Replacement *string `yaml:"replacement"`
}

// LoadSettingsFile reads and decodes a settings seed. Unknown keys are
// rejected so typos surface at startup.
func LoadSettingsFile(path string) (*SettingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettingsFile(data)
}

// ParseSettingsFile decodes a settings seed from YAML.
func ParseSettingsFile(data []byte) (*SettingsFile, error) {
	var f SettingsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	return &f, nil
}

// Values flattens the seed into settings-store names.
func (f *SettingsFile) Values() map[string]string {
	out := make(map[string]string)
	set := func(name, value string) {
		if value != "" {
			out[name] = value
		}
	}

	set(core.SettingMoodleIDField, f.MoodleIDField)
	set(core.SettingFieldIDField, f.Fields.IDField)
	set(core.SettingFieldCohort, f.Fields.Cohort)
	set(core.SettingFieldMainGroup, f.Fields.MainGroup)
	set(core.SettingFieldOtherGroups, f.Fields.OtherGroups)

	if gt := f.GroupTransform; gt != nil {
		if gt.Pattern != nil {
			out[core.SettingGroupPattern] = *gt.Pattern
		}
		if gt.Replacement != nil {
			out[core.SettingGroupReplacement] = *gt.Replacement
		}
	}
	if f.SyncNewUsersEnabled != nil {
		out[core.SettingSyncNewUsersEnabled] = strconv.FormatBool(*f.SyncNewUsersEnabled)
	}
	return out
}

// SeedValues returns the seed entries to write given what is stored. Without
// overwrite, names already present in existing are skipped.
func SeedValues(existing, seed map[string]string, overwrite bool) map[string]string {
	out := make(map[string]string, len(seed))
	for name, value := range seed {
		if _, ok := existing[name]; ok && !overwrite {
			continue
		}
		out[name] = value
	}
	return out
}
