package schema

// Options shared by every module.
const (
	OptState              = "state"
	OptForce              = "force"
	OptName               = "name"
	OptNamespace          = "namespace"
	OptLabels             = "labels"
	OptAnnotations        = "annotations"
	OptResourceDefinition = "resource_definition"
	OptSrc                = "src"

	OptKubeconfig = "kubeconfig"
	OptContext    = "context"
	OptHost       = "host"
	OptAPIKey     = "api_key"
	OptUsername   = "username"
	OptPassword   = "password"
	OptCertFile   = "cert_file"
	OptKeyFile    = "key_file"
	OptSSLCACert  = "ssl_ca_cert"
	OptVerifySSL  = "verify_ssl"

	OptDebug     = "debug"
	OptCheckMode = "check_mode"
	OptDiff      = "diff"
)

// ConnectionOptions are the options that select and authenticate against a cluster.
var ConnectionOptions = []string{
	OptKubeconfig, OptContext, OptHost, OptAPIKey, OptUsername, OptPassword,
	OptCertFile, OptKeyFile, OptSSLCACert, OptVerifySSL,
}

// Ansible hands internal settings to modules as parameters with this prefix.
const ansiblePrefix = "_ansible_"

func commonOptions(s Schema) []Option {
	opts := []Option{
		{Name: OptName, Path: []string{"metadata", "name"}},
		{Name: OptNamespace, Path: []string{"metadata", "namespace"}},
		{Name: OptLabels, Path: []string{"metadata", "labels"}, Type: TypeDict},
		{Name: OptAnnotations, Path: []string{"metadata", "annotations"}, Type: TypeDict},
		{Name: OptForce, Type: TypeBool},

		{Name: OptKubeconfig, Type: TypePath},
		{Name: OptContext},
		{Name: OptHost},
		{Name: OptAPIKey},
		{Name: OptUsername},
		{Name: OptPassword},
		{Name: OptCertFile, Type: TypePath},
		{Name: OptKeyFile, Type: TypePath},
		{Name: OptSSLCACert, Type: TypePath},
		{Name: OptVerifySSL, Type: TypeBool},

		{Name: OptDebug, Type: TypeBool},
		{Name: OptCheckMode, Type: TypeBool},
		{Name: OptDiff, Type: TypeBool},
	}
	if !s.CreateOnly {
		opts = append(opts,
			Option{Name: OptState, Choices: []string{"present", "absent"}},
			Option{Name: OptResourceDefinition, Type: TypeDict},
			Option{Name: OptSrc, Type: TypePath},
		)
	}
	return opts
}
