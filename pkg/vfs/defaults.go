package vfs

const defaultApp = `export default function App() {
  return (
    <div style={{ padding: '20px', fontFamily: 'Arial, sans-serif' }}>
      <h1 style={{ color: '#333' }}>Hello CipherStudio!</h1>
      <p>Start building your React app here.</p>
      <button
        onClick={() => alert('Button clicked!')}
        style={{
          padding: '10px 20px',
          backgroundColor: '#007bff',
          color: 'white',
          border: 'none',
          borderRadius: '4px',
          cursor: 'pointer'
        }}
      >
        Click me!
      </button>
    </div>
  );
}`

const defaultIndex = `import React from 'react';
import ReactDOM from 'react-dom/client';
import App from './App';

const root = ReactDOM.createRoot(document.getElementById('root'));
root.render(<App />);`

// DefaultFiles returns the files a new project starts with.
func DefaultFiles() []File {
	return []File{
		{Path: "/App.js", Content: defaultApp},
		{Path: "/index.js", Content: defaultIndex},
	}
}
