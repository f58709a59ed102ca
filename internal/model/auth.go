package model

type (
	RegisterRequest struct {
		Username            string `json:"username"`
		Salt                string `json:"salt"`
		AuthKeyHash         string `json:"authKeyHash"`
		PublicKey           string `json:"publicKey"`
		EncryptedPrivateKey string `json:"encryptedPrivateKey"`
		IV                  string `json:"iv"`
	}

	LoginParamsRequest struct {
		Username string `json:"username"`
	}

	LoginParamsResponse struct {
		Salt                string `json:"salt"`
		EncryptedPrivateKey string `json:"encryptedPrivateKey"`
		IV                  string `json:"iv"`
	}

	LoginRequest struct {
		Username    string `json:"username"`
		AuthKeyHash string `json:"authKeyHash"`
	}

	LoginResponse struct {
		Message   string `json:"message,omitempty"`
		UserID    string `json:"userId"`
		Username  string `json:"username"`
		PublicKey string `json:"publicKey"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)
