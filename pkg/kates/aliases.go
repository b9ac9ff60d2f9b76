package kates

import (
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/cli-runtime/pkg/genericclioptions"
)

// The kubernetes client libraries are split across enough packages, with enough colliding names
// (every other one is called "v1"), that reading code which uses them directly is a chore. The
// aliases here give the rest of this module one consistent set of names.

// Objects ///////////////////////////////////////////////////////////

type (
	Unstructured = unstructured.Unstructured
	TypeMeta     = metav1.TypeMeta
)

// Verb options //////////////////////////////////////////////////////

type (
	GetOptions    = metav1.GetOptions
	CreateOptions = metav1.CreateOptions
	PatchOptions  = metav1.PatchOptions
	DeleteOptions = metav1.DeleteOptions
)

type PatchType = types.PatchType

const MergePatchType = types.MergePatchType

// Client configuration //////////////////////////////////////////////

type ConfigFlags = genericclioptions.ConfigFlags

func NewConfigFlags(usePersistentConfig bool) *ConfigFlags {
	return genericclioptions.NewConfigFlags(usePersistentConfig)
}

// Errors ////////////////////////////////////////////////////////////

func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

func IsConflict(err error) bool {
	return apierrors.IsConflict(err)
}

func IsAlreadyExists(err error) bool {
	return apierrors.IsAlreadyExists(err)
}

const (
	NamespaceAll     = metav1.NamespaceAll
	NamespaceDefault = metav1.NamespaceDefault
)
