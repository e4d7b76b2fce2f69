package config

import "path/filepath"

// ScriptResolver maps change names to script paths under the
// configured directories. Scripts are named after the change, one file
// per action.
type ScriptResolver struct {
	deploy string
	revert string
	verify string
}

// NewScriptResolver builds a resolver rooted at dir using the
// configured script subdirectories.
func NewScriptResolver(dir string, scripts ScriptsConfig) ScriptResolver {
	return ScriptResolver{
		deploy: filepath.Join(dir, scripts.Deploy),
		revert: filepath.Join(dir, scripts.Revert),
		verify: filepath.Join(dir, scripts.Verify),
	}
}

func (r ScriptResolver) DeployScript(change string) string {
	return filepath.Join(r.deploy, change+".sql")
}

func (r ScriptResolver) RevertScript(change string) string {
	return filepath.Join(r.revert, change+".sql")
}

func (r ScriptResolver) VerifyScript(change string) string {
	return filepath.Join(r.verify, change+".sql")
}
