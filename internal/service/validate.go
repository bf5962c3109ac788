package service

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"lifeboat/internal/types"
)

var validate = validator.New()

func validateParams(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return errors.Wrap(types.ErrValidation, err.Error())
	}
	return nil
}

var backupTypesByKind = map[types.BackupKind][]types.BackupType{
	types.BackupKindDatabase: {
		types.BackupTypeFull,
		types.BackupTypeIncremental,
		types.BackupTypeDifferential,
		types.BackupTypeSchemaOnly,
		types.BackupTypeDataOnly,
	},
	types.BackupKindSystem: {
		types.BackupTypeFull,
		types.BackupTypeIncremental,
		types.BackupTypeFilesOnly,
		types.BackupTypeConfigOnly,
		types.BackupTypeMediaOnly,
	},
}

// validateBackupType accepts an empty type, which later defaults to full.
func validateBackupType(kind types.BackupKind, t types.BackupType) error {
	if t == "" {
		return nil
	}
	if !lo.Contains(backupTypesByKind[kind], t) {
		return errors.Wrapf(types.ErrValidation, "backup type %q is not valid for a %s backup", t, kind)
	}
	return nil
}
