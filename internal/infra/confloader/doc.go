// Package confloader loads configuration with koanf.
//
// Sources, from lowest to highest priority:
//
//  1. Defaults already present in the target struct
//  2. The YAML configuration file
//  3. Environment variables (CLOUDLOCK_ prefix)
//  4. Explicit overrides from LoadMap, such as command-line flags
//
// Environment variable names are matched against the koanf tags of the
// target, so CLOUDLOCK_STORAGE_DATA_DIR sets storage.data_dir. A Watcher
// reports changes of the configuration file for hot reload.
package confloader
